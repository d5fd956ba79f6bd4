package itemdb

import (
	"bytes"
	"fmt"
)

// syncSchema reconciles the registry with the persisted kinds. A registry
// that defines kinds is the source of truth and gets saved; an empty one is
// populated from storage.
func (repo *Repository) syncSchema(tx storageTx) error {
	var defined bool
	for _, k := range repo.reg.order {
		if !k.mixin {
			defined = true
			break
		}
	}
	if defined {
		return repo.saveSchema(tx)
	}
	return repo.loadSchema(tx)
}

func (repo *Repository) saveSchema(tx storageTx) error {
	b := tx.Bucket(bucketSchema)
	keep := make(map[string]bool)
	for _, k := range repo.reg.order {
		if k.mixin {
			continue
		}
		keep[k.path] = true
		data := encodeRecord(nil, k.def())
		if old := b.Get([]byte(k.path)); bytes.Equal(old, data) {
			continue
		}
		if err := b.Put([]byte(k.path), data); err != nil {
			return err
		}
		if repo.opt.Verbose {
			repo.logger.Debug("db: SCHEMA SAVE", "kind", k.path, "hash", k.Hash())
		}
	}
	var stale [][]byte
	c := b.Cursor()
	for k, _ := c.First(); k != nil; k, _ = c.Next() {
		if !keep[string(k)] {
			stale = append(stale, bytes.Clone(k))
		}
	}
	for _, k := range stale {
		if err := b.Delete(k); err != nil {
			return err
		}
	}
	repo.schemaGen = repo.reg.Generation()
	return nil
}

// loadSchema defines the persisted kinds in the registry. Super-kinds are
// linked once every kind exists, so definitions may come in any order.
func (repo *Repository) loadSchema(tx storageTx) error {
	reg := repo.reg
	var batch loadBatch
	c := tx.Bucket(bucketSchema).Cursor()
	for key, data := c.First(); key != nil; key, data = c.Next() {
		d, err := decodeRecord[kindDef](data)
		if err != nil {
			return fmt.Errorf("kind %s: %w", key, err)
		}
		if d.Mixin {
			continue
		}
		k := reg.newKind(d.Path)
		for _, ad := range d.Attrs {
			a, alias, err := ad.attribute()
			if err != nil {
				return fmt.Errorf("kind %s: %w", d.Path, err)
			}
			if err := k.addAttribute(a, alias); err != nil {
				return err
			}
		}
		for name, v := range d.Initial {
			if err := k.setInitial(name, v); err != nil {
				return err
			}
		}
		if d.Impl != "" {
			if k.impl = reg.Impl(d.Impl); k.impl == nil {
				repo.logger.Warn("db: unknown implementation in stored schema", "kind", d.Path, "impl", d.Impl)
			}
		}
		if err := reg.addKind(k); err != nil {
			return err
		}
		batch.after(func() error {
			supers := make([]*Kind, 0, len(d.Supers))
			for _, sp := range d.Supers {
				s := reg.Kind(sp)
				if s == nil {
					return &LoadError{What: "super-kind", Ref: sp, From: d.Path}
				}
				supers = append(supers, s)
			}
			reg.cacheMu.Lock()
			defer reg.cacheMu.Unlock()
			return k.setSuperKinds(supers)
		})
		batch.after(func() error {
			if h := k.Hash(); h != d.Hash {
				repo.logger.Warn("db: stored kind hash mismatch", "kind", d.Path, "stored", d.Hash, "loaded", h)
			}
			return nil
		})
	}
	if err := batch.finish(); err != nil {
		return err
	}
	if repo.opt.Verbose {
		repo.logger.Debug("db: SCHEMA LOAD", "kinds", len(reg.order))
	}
	repo.schemaGen = reg.Generation()
	return nil
}
