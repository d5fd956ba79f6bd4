package itemdb

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"
	"go.etcd.io/bbolt"

	"github.com/andreyvit/itemdb/journal"
)

const trackViews = true

// Repository is a versioned store of items. Each commit produces a new
// version; views read a fixed version plus their own edits.
type Repository struct {
	st      storage
	reg     *Registry
	opt     Options
	logger  *slog.Logger
	metrics *repoMetrics
	journal *journal.Journal

	commitMu    sync.Mutex
	schemaGen   uint64 // registry generation last saved, guarded by commitMu
	beforeWrite func() // test hook, runs before the write transaction of a commit
	valueCache  *lru.Cache[uint64, *valueRecord]

	latest      atomic.Uint64
	lastSize    atomic.Int64
	ReadCount   atomic.Uint64
	CommitCount atomic.Uint64

	views     []*View
	viewsLock sync.Mutex
}

type Options struct {
	Logger    *slog.Logger
	Verbose   bool
	IsTesting bool
	MmapSize  int

	// InMemory keeps everything in memory; the path passed to Open is
	// ignored.
	InMemory bool

	// JournalDir, when set, receives one journal record per commit.
	JournalDir string

	// Metrics receives the repository's Prometheus collectors.
	Metrics prometheus.Registerer

	// ValueCacheSize is the number of decoded value records kept in memory.
	ValueCacheSize int

	// LockTimeout bounds the wait for the database file lock.
	LockTimeout time.Duration
}

const defaultValueCacheSize = 4096

// JournalFileName is the segment file name pattern of the commit journal.
const JournalFileName = "commits-*.wal"

// Open opens or creates a repository. If reg defines no kinds, the kinds
// persisted by earlier sessions are loaded into it; otherwise the schema in
// reg is saved.
func Open(path string, reg *Registry, opt Options) (*Repository, error) {
	if opt.InMemory {
		return openStorage(newMemStorage(), reg, opt)
	}

	bopt := &bbolt.Options{}
	*bopt = *bbolt.DefaultOptions
	bopt.Timeout = 10 * time.Second
	if opt.LockTimeout != 0 {
		bopt.Timeout = opt.LockTimeout
	}
	if opt.IsTesting {
		bopt.NoSync = true
		bopt.NoFreelistSync = true
		bopt.InitialMmapSize = 1024 * 1024 * 5
	} else {
		bopt.InitialMmapSize = 1024 * 1024 * 1024
		bopt.FreelistType = bbolt.FreelistMapType
	}
	if opt.MmapSize != 0 {
		bopt.InitialMmapSize = opt.MmapSize
	}

	bdb, err := bbolt.Open(path, 0666, bopt)
	if err != nil {
		if errors.Is(err, bbolt.ErrTimeout) {
			return nil, fmt.Errorf("itemdb: %w", contentionErr(err))
		}
		return nil, fmt.Errorf("itemdb: %w", err)
	}
	repo, err := openStorage(newBoltStorage(bdb), reg, opt)
	if err != nil {
		bdb.Close()
		return nil, err
	}
	return repo, nil
}

func openStorage(st storage, reg *Registry, opt Options) (*Repository, error) {
	if reg == nil {
		reg = NewRegistry()
	}
	if opt.Logger == nil {
		opt.Logger = slog.Default()
	}
	if opt.ValueCacheSize <= 0 {
		opt.ValueCacheSize = defaultValueCacheSize
	}
	repo := &Repository{
		st:         st,
		reg:        reg,
		opt:        opt,
		logger:     opt.Logger,
		metrics:    newRepoMetrics(),
		valueCache: must(lru.New[uint64, *valueRecord](opt.ValueCacheSize)),
	}
	if opt.Metrics != nil {
		if err := repo.metrics.register(opt.Metrics, reg.metrics); err != nil {
			return nil, fmt.Errorf("itemdb: metrics: %w", err)
		}
	}

	err := repo.write(func(tx storageTx) error {
		for _, name := range allBuckets {
			if _, err := tx.CreateBucket(name); err != nil {
				return err
			}
		}
		meta := tx.Bucket(bucketMeta)
		if raw := meta.Get(metaKeyFormat); raw == nil {
			ensure(meta.Put(metaKeyFormat, binary.BigEndian.AppendUint64(nil, storageFormat)))
			ensure(meta.Put(metaKeyCreatedAt, binary.BigEndian.AppendUint64(nil, uint64(time.Now().Unix()))))
		} else if len(raw) != 8 || binary.BigEndian.Uint64(raw) != storageFormat {
			return dataErrf(raw, 0, nil, "unsupported storage format")
		}
		repo.latest.Store(readVersion(meta))
		return repo.syncSchema(tx)
	})
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("itemdb: open: %w", err)
	}
	reg.warmCaches()
	repo.metrics.version.Set(float64(repo.latest.Load()))

	if opt.JournalDir != "" {
		repo.journal = journal.New(opt.JournalDir, journal.Options{
			FileName:  JournalFileName,
			DebugName: "commits",
			Logger:    opt.Logger,
			Verbose:   opt.Verbose,
		})
		if err := repo.journal.StartWriting(); err != nil {
			st.Close()
			return nil, fmt.Errorf("itemdb: journal: %w", err)
		}
	}

	if opt.Verbose {
		repo.logger.Debug("db: OPEN", "version", repo.latest.Load(), "kinds", len(reg.kinds))
	}
	return repo, nil
}

func readVersion(meta storageBucket) uint64 {
	if raw := meta.Get(metaKeyVersion); len(raw) == 8 {
		return binary.BigEndian.Uint64(raw)
	}
	return 0
}

func (repo *Repository) Registry() *Registry {
	return repo.reg
}

func (repo *Repository) Logger() *slog.Logger {
	return repo.logger
}

// Version returns the latest committed version.
func (repo *Repository) Version() uint64 {
	return repo.latest.Load()
}

func (repo *Repository) Size() int64 {
	return repo.lastSize.Load()
}

func (repo *Repository) Close() error {
	var errs []error
	if repo.journal != nil {
		errs = append(errs, repo.journal.FinishWriting())
	}
	errs = append(errs, repo.st.Close())
	return errors.Join(errs...)
}

func (repo *Repository) read(f func(tx storageTx) error) error {
	tx, err := repo.st.BeginTx(false)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	repo.ReadCount.Add(1)
	return f(tx)
}

func (repo *Repository) write(f func(tx storageTx) error) error {
	tx, err := repo.st.BeginTx(true)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := f(tx); err != nil {
		return err
	}
	repo.lastSize.Store(tx.Size())
	return tx.Commit()
}

// refreshLatest re-reads the latest version, which another Repository
// sharing the storage may have advanced.
func (repo *Repository) refreshLatest(tx storageTx) uint64 {
	v := readVersion(tx.Bucket(bucketMeta))
	repo.latest.Store(v)
	return v
}

// NewView opens a view at the latest version.
func (repo *Repository) NewView(name string) (*View, error) {
	var ver uint64
	err := repo.read(func(tx storageTx) error {
		ver = repo.refreshLatest(tx)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return repo.newView(name, ver), nil
}

// ViewAt opens a read-mostly view of an older version. Committing it merges
// its edits onto the latest version like any other view.
func (repo *Repository) ViewAt(name string, version uint64) (*View, error) {
	if version > repo.Version() {
		return nil, fmt.Errorf("version %d does not exist yet", version)
	}
	return repo.newView(name, version), nil
}

func (repo *Repository) addView(v *View) {
	repo.metrics.openViews.Inc()
	if !trackViews {
		return
	}
	repo.viewsLock.Lock()
	defer repo.viewsLock.Unlock()
	repo.views = append(repo.views, v)
}

func (repo *Repository) removeView(v *View) {
	repo.metrics.openViews.Dec()
	if !trackViews {
		return
	}
	repo.viewsLock.Lock()
	defer repo.viewsLock.Unlock()
	i := slices.Index(repo.views, v)
	if i < 0 {
		panic("view not found in list")
	}
	n := len(repo.views)
	repo.views[i] = repo.views[n-1]
	repo.views[n-1] = nil
	repo.views = repo.views[:n-1]
}

// DescribeOpenViews lists the views not yet closed, oldest first, with
// the stacks that opened the long-lived ones.
func (repo *Repository) DescribeOpenViews() string {
	if !trackViews {
		return "OPEN VIEW TRACKING DISABLED"
	}

	repo.viewsLock.Lock()
	views := slices.Clone(repo.views)
	repo.viewsLock.Unlock()

	if len(views) == 0 {
		return "NO OPEN VIEWS"
	}
	slices.SortFunc(views, func(a, b *View) int {
		return a.startTime.Compare(b.startTime)
	})

	now := time.Now()
	var buf strings.Builder
	fmt.Fprintf(&buf, "%d OPEN VIEWS:\n", len(views))
	for _, v := range views {
		ms := now.Sub(v.startTime).Milliseconds()
		if ms < 100 {
			fmt.Fprintf(&buf, "\n---\n%s at v%d open for %d ms\n", v.name, v.base, ms)
		} else {
			fmt.Fprintf(&buf, "\n---\n%s at v%d open for %d ms:\n%s", v.name, v.base, ms, v.stack)
		}
	}
	return buf.String()
}

// VersionInfo describes one commit.
type VersionInfo struct {
	Version  uint64
	Parent   uint64
	Time     time.Time
	View     string
	Changed  []ID
	Children []ID
	Deleted  int
}

func (rec *commitRecord) info() (VersionInfo, error) {
	changed, err := decodeIDs(rec.Changed)
	if err != nil {
		return VersionInfo{}, err
	}
	children, err := decodeIDs(rec.Children)
	if err != nil {
		return VersionInfo{}, err
	}
	return VersionInfo{
		Version:  rec.Version,
		Parent:   rec.Parent,
		Time:     time.UnixMilli(rec.Time).UTC(),
		View:     rec.View,
		Changed:  changed,
		Children: children,
		Deleted:  rec.Deleted,
	}, nil
}

// Versions returns the commits in (after, upTo], oldest first. upTo == 0
// means up to the latest version.
func (repo *Repository) Versions(after, upTo uint64) ([]VersionInfo, error) {
	var out []VersionInfo
	err := repo.read(func(tx storageTx) error {
		recs, err := readCommits(tx, after, upTo)
		if err != nil {
			return err
		}
		for _, rec := range recs {
			info, err := rec.info()
			if err != nil {
				return err
			}
			out = append(out, info)
		}
		return nil
	})
	return out, err
}

func readCommits(tx storageTx, after, upTo uint64) ([]*commitRecord, error) {
	var out []*commitRecord
	c := tx.Bucket(bucketVersions).Cursor()
	for k, v := c.Seek(versionKey(after + 1)); k != nil; k, v = c.Next() {
		ver := binary.BigEndian.Uint64(k)
		if upTo != 0 && ver > upTo {
			break
		}
		rec, err := decodeRecord[commitRecord](v)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// FullTextEntry is a value written for an Indexed attribute and not yet
// picked up by the background indexer.
type FullTextEntry struct {
	ValueID   uint64
	Item      ID
	Attribute string
	Value     any
}

// PendingFullText returns up to limit values awaiting full-text indexing
// (all of them if limit <= 0), oldest first.
func (repo *Repository) PendingFullText(ctx context.Context, limit int) ([]FullTextEntry, error) {
	var out []FullTextEntry
	err := repo.read(func(tx storageTx) error {
		c := tx.Bucket(bucketFullText).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			if limit > 0 && len(out) >= limit {
				break
			}
			vid := binary.BigEndian.Uint64(k)
			var item ID
			copy(item[:], v)
			vr, err := repo.readValue(tx, vid)
			if err != nil {
				return err
			}
			val, err := repo.decodeLiteral(tx, vr)
			if err != nil {
				return err
			}
			out = append(out, FullTextEntry{ValueID: vid, Item: item, Attribute: vr.Alias, Value: val})
		}
		return nil
	})
	return out, err
}

// MarkFullTextIndexed clears the pending flag of the given values.
func (repo *Repository) MarkFullTextIndexed(valueIDs ...uint64) error {
	return repo.write(func(tx storageTx) error {
		b := tx.Bucket(bucketFullText)
		for _, vid := range valueIDs {
			if err := b.Delete(versionKey(vid)); err != nil {
				return err
			}
		}
		return nil
	})
}
