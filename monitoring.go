package itemdb

import "fmt"

type BucketStats struct {
	Name  string
	Keys  int
	Size  int64
	Alloc int64
}

// Stats describes the storage of a repository.
type Stats struct {
	Version uint64
	Size    int64
	Buckets []BucketStats
}

func (s *Stats) TotalAlloc() int64 {
	var n int64
	for _, bs := range s.Buckets {
		n += bs.Alloc
	}
	return n
}

func (s *Stats) Bucket(name string) BucketStats {
	for _, bs := range s.Buckets {
		if bs.Name == name {
			return bs
		}
	}
	return BucketStats{Name: name}
}

func (s *Stats) String() string {
	return fmt.Sprintf("v%d, %d bytes, %d buckets, %d bytes allocated", s.Version, s.Size, len(s.Buckets), s.TotalAlloc())
}

func (repo *Repository) Stats() (*Stats, error) {
	st := &Stats{}
	err := repo.read(func(tx storageTx) error {
		st.Version = readVersion(tx.Bucket(bucketMeta))
		st.Size = tx.Size()
		for _, name := range allBuckets {
			b := tx.Bucket(name)
			if b == nil {
				continue
			}
			bs := b.Stats()
			st.Buckets = append(st.Buckets, BucketStats{
				Name:  string(name),
				Keys:  bs.KeyN,
				Size:  bs.LeafInuse,
				Alloc: bs.TotalAlloc(),
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return st, nil
}
