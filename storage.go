package itemdb

// storage is the key-value backend under a Repository: Bolt on disk, or an
// in-memory map for tests and InMemory repositories.
type storage interface {
	// BeginTx starts a transaction. At most one writable transaction is open
	// at a time; BeginTx(true) waits for the previous writer.
	BeginTx(writable bool) (storageTx, error)
	Close() error
}

type storageTx interface {
	Writable() bool

	// Bucket returns nil if the bucket does not exist.
	Bucket(name bucketName) storageBucket

	// CreateBucket creates the bucket if it does not exist yet.
	CreateBucket(name bucketName) (storageBucket, error)

	Commit() error

	// Rollback aborts the transaction; safe to call after Commit.
	Rollback() error

	// Size returns the database size in bytes, 0 if unknown.
	Size() int64
}

// storageBucket is a sorted key-value collection.
type storageBucket interface {
	// Get returns nil if the key is not found. The returned slice is only
	// valid until the transaction ends.
	Get(key []byte) []byte
	Put(key, value []byte) error
	Delete(key []byte) error
	Cursor() storageCursor
	Stats() bucketStats
}

type bucketStats struct {
	KeyN        int
	LeafInuse   int64
	LeafAlloc   int64
	BranchAlloc int64
}

func (s bucketStats) TotalAlloc() int64 { return s.BranchAlloc + s.LeafAlloc }

type storageCursor interface {
	First() (key, value []byte)
	Last() (key, value []byte)

	// Seek moves to the first key >= seek.
	Seek(seek []byte) (key, value []byte)

	// SeekLast moves to the last key having the given prefix, or to the
	// key right before where such keys would be.
	SeekLast(prefix []byte) (key, value []byte)

	Next() (key, value []byte)
	Prev() (key, value []byte)
}

type bucketName string

const (
	bucketMeta        bucketName = "meta"
	bucketSchema      bucketName = "schema"
	bucketItems       bucketName = "items"       // id+version -> item record
	bucketValues      bucketName = "values"      // value id -> value record
	bucketCollections bucketName = "collections" // collection id+version -> collection record
	bucketChildren    bucketName = "children"    // parent id+version -> collection record
	bucketVersions    bucketName = "versions"    // version -> commit record
	bucketExtents     bucketName = "extents"     // kind path \0 id -> extent entry
	bucketFullText    bucketName = "fulltext"    // value id -> item id, pending indexing
	bucketLobs        bucketName = "lobs"        // lob id -> bytes
	bucketIndexes     bucketName = "indexes"     // snapshot id -> index snapshot
)

var allBuckets = []bucketName{
	bucketMeta, bucketSchema, bucketItems, bucketValues, bucketCollections,
	bucketChildren, bucketVersions, bucketExtents, bucketFullText, bucketLobs,
	bucketIndexes,
}

var (
	metaKeyVersion   = []byte("version")
	metaKeyValueSeq  = []byte("valueseq")
	metaKeyFormat    = []byte("format")
	metaKeyCreatedAt = []byte("created")
)

const storageFormat = 1
