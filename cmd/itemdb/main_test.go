package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/andreyvit/itemdb"
)

type fixture struct {
	dir        string
	dbPath     string
	journalDir string
}

func seed(t *testing.T) *fixture {
	dir := t.TempDir()
	fx := &fixture{
		dir:        dir,
		dbPath:     filepath.Join(dir, "test.db"),
		journalDir: filepath.Join(dir, "journal"),
	}

	reg := itemdb.NewRegistry()
	folder := itemdb.DefineKind(reg, "//Schema/Folder", func(b *itemdb.KindBuilder) {
		b.Attr("title", itemdb.Single)
	})
	repo, err := itemdb.Open(fx.dbPath, reg, itemdb.Options{IsTesting: true, JournalDir: fx.journalDir})
	require.NoError(t, err)

	v, err := repo.NewView("seed")
	require.NoError(t, err)
	root, err := v.NewItem("Projects", nil, folder)
	require.NoError(t, err)
	require.NoError(t, root.SetAttributeValue("title", "All projects"))
	_, err = v.NewItem("Home", root, folder)
	require.NoError(t, err)
	_, err = v.Commit(context.Background(), nil)
	require.NoError(t, err)
	v.Close()
	require.NoError(t, repo.Close())
	return fx
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd(&out, &errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	if errOut.Len() > 0 {
		t.Log(errOut.String())
	}
	return out.String(), err
}

func TestCheck(t *testing.T) {
	fx := seed(t)
	out, err := run(t, "check", "--db", fx.dbPath, "--parallel", "2")
	require.NoError(t, err)
	require.Contains(t, out, "v1: 2 items checked, 0 failed")
}

func TestDump(t *testing.T) {
	fx := seed(t)
	out, err := run(t, "dump", "--db", fx.dbPath)
	require.NoError(t, err)
	require.Contains(t, out, "Projects : //Schema/Folder")
	require.Contains(t, out, "  .title = All projects\n")
	require.Contains(t, out, "  Home : //Schema/Folder")

	out, err = run(t, "dump", "//Projects/Home", "--db", fx.dbPath, "--bare")
	require.NoError(t, err)
	require.Contains(t, out, "Home : //Schema/Folder")
	require.NotContains(t, out, "Projects")
}

func TestFind(t *testing.T) {
	fx := seed(t)
	out, err := run(t, "find", "//Projects", "--db", fx.dbPath)
	require.NoError(t, err)
	require.Contains(t, out, "//Projects\n")
	require.Contains(t, out, "  kind: //Schema/Folder\n")
	require.Contains(t, out, "  .title = All projects\n")

	_, err = run(t, "find", "//Projects/Nope", "--db", fx.dbPath)
	require.ErrorContains(t, err, "not found")
}

func TestKinds(t *testing.T) {
	fx := seed(t)
	out, err := run(t, "kinds", "--db", fx.dbPath)
	require.NoError(t, err)
	require.Contains(t, out, "//Schema/Folder ")
	require.Contains(t, out, "  title: single\n")
}

func TestVersions(t *testing.T) {
	fx := seed(t)
	out, err := run(t, "versions", "--db", fx.dbPath)
	require.NoError(t, err)
	require.Contains(t, out, "v1\tparent=v0\t")
	require.Contains(t, out, "\tseed\tchanged=2 ")
}

func TestJournal(t *testing.T) {
	fx := seed(t)
	out, err := run(t, "journal", fx.journalDir)
	require.NoError(t, err)
	require.Contains(t, out, "#1\t")
	require.Contains(t, out, "\tv1<-v0\tseed\tcreated=2 updated=0 deleted=0\n")
}

func TestConfigFile(t *testing.T) {
	fx := seed(t)
	cfgPath := filepath.Join(fx.dir, "itemdb.toml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
db = "`+fx.dbPath+`"
journal_dir = "`+fx.journalDir+`"
lock_timeout = "2s"
parallelism = 1
`), 0o644))

	out, err := run(t, "--config", cfgPath, "check")
	require.NoError(t, err)
	require.Contains(t, out, "0 failed")

	out, err = run(t, "--config", cfgPath, "journal")
	require.NoError(t, err)
	require.Contains(t, out, "created=2")

	cfg, err := loadConfig(cfgPath, true)
	require.NoError(t, err)
	require.Equal(t, fx.dbPath, cfg.DB)
	require.Equal(t, 1, cfg.Parallelism)
	require.Equal(t, "2s", cfg.LockTimeout.String())
}

func TestConfigFile_unknownKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "itemdb.toml")
	require.NoError(t, os.WriteFile(path, []byte("dbpath = \"x\"\n"), 0o644))
	_, err := loadConfig(path, true)
	require.ErrorContains(t, err, "unknown keys: dbpath")
}

func TestMissingDB(t *testing.T) {
	_, err := run(t, "versions")
	require.ErrorContains(t, err, "no repository specified")
}
