// Package jar writes and links jar archives. Output is byte-stable: a
// fixed entry timestamp and caller-controlled entry order make identical
// input produce identical archives.
package jar

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"
)

const manifestPath = "META-INF/MANIFEST.MF"

// Zip stores DOS timestamps, which start in 1980.
var fixedTime = time.Date(1980, time.January, 1, 0, 0, 0, 0, time.UTC)

// Entry is one file in the archive.
type Entry struct {
	Name string
	Data []byte
}

// Manifest describes META-INF/MANIFEST.MF, always the first entry.
type Manifest struct {
	MainClass string
}

// Manifest lines cap at 72 bytes; longer values continue on lines
// starting with a single space.
const maxManifestLine = 72

func (m Manifest) render() []byte {
	var b bytes.Buffer
	writeAttribute(&b, "Manifest-Version", "1.0")
	if m.MainClass != "" {
		writeAttribute(&b, "Main-Class", m.MainClass)
	}
	b.WriteString("\r\n")
	return b.Bytes()
}

func writeAttribute(b *bytes.Buffer, name, value string) {
	line := name + ": " + value
	room := maxManifestLine
	for len(line) > room {
		b.WriteString(line[:room])
		b.WriteString("\r\n ")
		line = line[room:]
		room = maxManifestLine - 1
	}
	b.WriteString(line)
	b.WriteString("\r\n")
}

// Write produces a jar holding the manifest and the given entries in
// order.
func Write(w io.Writer, manifest Manifest, entries []Entry) error {
	zw := zip.NewWriter(w)
	if err := writeEntry(zw, manifestPath, manifest.render()); err != nil {
		return err
	}
	for _, e := range entries {
		if err := writeEntry(zw, e.Name, e.Data); err != nil {
			return err
		}
	}
	return zw.Close()
}

func writeEntry(zw *zip.Writer, name string, data []byte) error {
	f, err := zw.CreateHeader(&zip.FileHeader{
		Name:     name,
		Method:   zip.Deflate,
		Modified: fixedTime,
	})
	if err != nil {
		return err
	}
	_, err = f.Write(data)
	return err
}

// Link merges jars into one archive. Entries keep their input order.
// The first manifest encountered becomes the output manifest; any other
// entry name appearing twice is an error.
func Link(w io.Writer, archives ...[]byte) error {
	var manifest []byte
	var merged []Entry
	seen := make(map[string]bool)
	for i, a := range archives {
		zr, err := zip.NewReader(bytes.NewReader(a), int64(len(a)))
		if err != nil {
			return fmt.Errorf("archive %d: %w", i+1, err)
		}
		for _, f := range zr.File {
			if strings.HasSuffix(f.Name, "/") {
				continue
			}
			data, err := readEntry(f)
			if err != nil {
				return fmt.Errorf("archive %d: %s: %w", i+1, f.Name, err)
			}
			if f.Name == manifestPath {
				if manifest == nil {
					manifest = data
				}
				continue
			}
			if seen[f.Name] {
				return fmt.Errorf("duplicate entry %s", f.Name)
			}
			seen[f.Name] = true
			merged = append(merged, Entry{Name: f.Name, Data: data})
		}
	}

	zw := zip.NewWriter(w)
	if manifest != nil {
		if err := writeEntry(zw, manifestPath, manifest); err != nil {
			return err
		}
	}
	for _, e := range merged {
		if err := writeEntry(zw, e.Name, e.Data); err != nil {
			return err
		}
	}
	return zw.Close()
}

func readEntry(f *zip.File) ([]byte, error) {
	r, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
