package archive

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeZip creates a zip at path with the given member names and contents.
// Names ending in "/" become directory entries.
func writeZip(t *testing.T, path string, members map[string]string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for name, body := range members {
		w, err := zw.Create(name)
		require.NoError(t, err)
		if body != "" {
			_, err = w.Write([]byte(body))
			require.NoError(t, err)
		}
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
}

// writeCorruptZip stores members uncompressed in order and then alters the stored bytes of
// the last one, so its CRC no longer matches.
func writeCorruptZip(t *testing.T, path string, names, bodies []string) {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for i, name := range names {
		w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Store})
		require.NoError(t, err)
		_, err = w.Write([]byte(bodies[i]))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	last := []byte(bodies[len(bodies)-1])
	idx := bytes.LastIndex(buf.Bytes(), last)
	require.GreaterOrEqual(t, idx, 0)
	data := buf.Bytes()
	data[idx] ^= 0x20
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func newExtractor(t *testing.T, opts ...Option) *Extractor {
	t.Helper()
	x, err := New(opts...)
	require.NoError(t, err)
	return x
}

func TestExtract(t *testing.T) {
	ctx := context.Background()

	t.Run("writes every member", func(t *testing.T) {
		src := t.TempDir()
		dest := filepath.Join(t.TempDir(), "out")
		archivePath := filepath.Join(src, "export.siard")
		members := map[string]string{
			"header/metadata.xml":             "<siardArchive/>",
			"content/schema0/":                "",
			"content/schema0/table0/rows.txt": "PIN\tName\n1\tMüller\n",
			"Person_1.txt":                    "Name\nMeier\n",
		}
		writeZip(t, archivePath, members)

		files, err := newExtractor(t).Extract(ctx, archivePath, dest)
		require.NoError(t, err)
		assert.Len(t, files, 3, "directory entries are not reported as files")

		data, err := os.ReadFile(filepath.Join(dest, "content", "schema0", "table0", "rows.txt"))
		require.NoError(t, err)
		assert.Equal(t, "PIN\tName\n1\tMüller\n", string(data))
		for _, f := range files {
			assert.True(t, filepath.IsAbs(f), "%s should be absolute", f)
		}
	})

	t.Run("re-extraction overwrites", func(t *testing.T) {
		src := t.TempDir()
		dest := t.TempDir()
		archivePath := filepath.Join(src, "a.zip")
		require.NoError(t, os.WriteFile(filepath.Join(dest, "data.txt"), []byte("a much longer previous content\n"), 0o644))
		writeZip(t, archivePath, map[string]string{"data.txt": "new\n"})

		_, err := newExtractor(t).Extract(ctx, archivePath, dest)
		require.NoError(t, err)
		data, err := os.ReadFile(filepath.Join(dest, "data.txt"))
		require.NoError(t, err)
		assert.Equal(t, "new\n", string(data))
	})

	t.Run("unsafe member rejects whole archive", func(t *testing.T) {
		for _, name := range []string{"../evil.txt", "a/../../evil.txt", "/etc/evil.txt", `..\evil.txt`} {
			t.Run(name, func(t *testing.T) {
				src := t.TempDir()
				dest := filepath.Join(t.TempDir(), "out")
				archivePath := filepath.Join(src, "bad.zip")
				writeZip(t, archivePath, map[string]string{
					"good.txt": "fine\n",
					name:       "pwned\n",
				})

				files, err := newExtractor(t).Extract(ctx, archivePath, dest)
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrUnsafePath)
				assert.Empty(t, files)

				var extractErr *ExtractionError
				require.ErrorAs(t, err, &extractErr)
				assert.Equal(t, archivePath, extractErr.Archive)

				_, statErr := os.Stat(filepath.Join(dest, "good.txt"))
				assert.True(t, os.IsNotExist(statErr), "nothing is written from a rejected archive")
				_, statErr = os.Stat(filepath.Join(filepath.Dir(dest), "evil.txt"))
				assert.True(t, os.IsNotExist(statErr))
			})
		}
	})

	t.Run("corrupt archive", func(t *testing.T) {
		archivePath := filepath.Join(t.TempDir(), "broken.zip")
		require.NoError(t, os.WriteFile(archivePath, []byte("this is not a zip file"), 0o644))

		_, err := newExtractor(t).Extract(ctx, archivePath, t.TempDir())
		var extractErr *ExtractionError
		require.ErrorAs(t, err, &extractErr)
		assert.Equal(t, archivePath, extractErr.Archive)
		assert.ErrorIs(t, err, zip.ErrFormat)
	})

	t.Run("checksum failure leaves destination untouched", func(t *testing.T) {
		src := t.TempDir()
		parent := t.TempDir()
		dest := filepath.Join(parent, "d")
		archivePath := filepath.Join(src, "d.zip")
		writeCorruptZip(t, archivePath,
			[]string{"Fine.txt", "Leak.txt"},
			[]string{"Name\nMeier\n", "Name\nGhost\n"})

		files, err := newExtractor(t).Extract(ctx, archivePath, dest)
		require.Error(t, err)
		assert.ErrorIs(t, err, zip.ErrChecksum)
		assert.Empty(t, files)
		var extractErr *ExtractionError
		require.ErrorAs(t, err, &extractErr)
		assert.Equal(t, "Leak.txt", extractErr.Member)

		_, statErr := os.Stat(dest)
		assert.True(t, os.IsNotExist(statErr), "no destination is created for a failed archive")
		entries, err := os.ReadDir(parent)
		require.NoError(t, err)
		assert.Empty(t, entries, "the staging directory is removed")
	})

	t.Run("checksum failure keeps previous contents", func(t *testing.T) {
		src := t.TempDir()
		dest := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dest, "Fine.txt"), []byte("old\n"), 0o644))
		archivePath := filepath.Join(src, "d.zip")
		writeCorruptZip(t, archivePath,
			[]string{"Fine.txt", "Leak.txt"},
			[]string{"Name\nMeier\n", "Name\nGhost\n"})

		_, err := newExtractor(t).Extract(ctx, archivePath, dest)
		require.Error(t, err)
		data, err := os.ReadFile(filepath.Join(dest, "Fine.txt"))
		require.NoError(t, err)
		assert.Equal(t, "old\n", string(data))
		_, statErr := os.Stat(filepath.Join(dest, "Leak.txt"))
		assert.True(t, os.IsNotExist(statErr))
	})

	t.Run("cancelled context", func(t *testing.T) {
		src := t.TempDir()
		archivePath := filepath.Join(src, "a.zip")
		writeZip(t, archivePath, map[string]string{"x.txt": "x\n"})

		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := newExtractor(t).Extract(cctx, archivePath, t.TempDir())
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestMemberPath(t *testing.T) {
	dest := filepath.Join(string(filepath.Separator), "data", "out")
	got, err := memberPath(dest, "a/b/c.txt")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dest, "a", "b", "c.txt"), got)

	got, err = memberPath(dest, "dir/")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dest, "dir"), got)

	_, err = memberPath(dest, "../x")
	assert.ErrorIs(t, err, ErrUnsafePath)
}

func TestExtractDirectory(t *testing.T) {
	ctx := context.Background()

	t.Run("bad archive does not stop the batch", func(t *testing.T) {
		src := t.TempDir()
		dest := t.TempDir()
		for i := 1; i <= 3; i++ {
			writeZip(t, filepath.Join(src, fmt.Sprintf("good%d.zip", i)), map[string]string{
				"Person_1.txt": "Name\nMüller\n",
				"Adresse.txt":  "Ort\nBern\n",
			})
		}
		require.NoError(t, os.WriteFile(filepath.Join(src, "corrupt.zip"), []byte("garbage"), 0o644))
		require.NoError(t, os.WriteFile(filepath.Join(src, "notes.md"), []byte("ignored"), 0o644))

		batch, err := newExtractor(t, WithWorkers(3)).ExtractDirectory(ctx, src, dest)
		require.NoError(t, err)
		assert.Len(t, batch.Extracted, 3)
		require.Len(t, batch.Failed, 1)
		assert.Equal(t, filepath.Join(src, "corrupt.zip"), batch.Failed[0].Archive)
		assert.Equal(t, 6, batch.FileCount())

		for i := 1; i <= 3; i++ {
			_, err := os.Stat(filepath.Join(dest, fmt.Sprintf("good%d", i), "Person_1.txt"))
			assert.NoError(t, err)
		}
		_, err = os.Stat(filepath.Join(dest, "notes"))
		assert.True(t, os.IsNotExist(err), "non-archives are skipped")
	})

	t.Run("empty source", func(t *testing.T) {
		batch, err := newExtractor(t).ExtractDirectory(ctx, t.TempDir(), t.TempDir())
		require.NoError(t, err)
		assert.Empty(t, batch.Extracted)
		assert.Empty(t, batch.Failed)
	})

	t.Run("missing source", func(t *testing.T) {
		_, err := newExtractor(t).ExtractDirectory(ctx, filepath.Join(t.TempDir(), "nope"), t.TempDir())
		assert.ErrorIs(t, err, os.ErrNotExist)
	})
}

func TestNewRejectsInvalidWorkers(t *testing.T) {
	_, err := New(WithWorkers(0))
	assert.ErrorIs(t, err, ErrWorkersInvalid)
}
