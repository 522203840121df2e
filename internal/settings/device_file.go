package settings

import (
	"context"
	"fmt"
	"os"
)

// FileFlashDevice backs the settings page with a regular file or an
// MTD-style character device node, programming and erasing through
// positioned writes. It applies the same quadword and bit-clearing
// discipline as MemFlashDevice so behaviour on a file matches behaviour
// on real NOR flash.
type FileFlashDevice struct {
	f        *os.File
	pageSize int
}

// OpenFileFlashDevice opens (creating if necessary) path as a
// pageSize-byte settings page. A newly created file is initialised to
// the erased state.
func OpenFileFlashDevice(path string, pageSize int) (*FileFlashDevice, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("settings: open flash file %s: %w", path, err)
	}

	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("settings: stat flash file %s: %w", path, err)
	}

	d := &FileFlashDevice{f: f, pageSize: pageSize}
	if st.Size() < int64(pageSize) {
		if err := d.ErasePage(context.Background()); err != nil {
			f.Close()
			return nil, err
		}
	}
	return d, nil
}

// Close releases the underlying file handle.
func (d *FileFlashDevice) Close() error {
	return d.f.Close()
}

func (d *FileFlashDevice) PageSize() int {
	return d.pageSize
}

func (d *FileFlashDevice) ReadPage(_ context.Context) ([]byte, error) {
	out := make([]byte, d.pageSize)
	if _, err := d.f.ReadAt(out, 0); err != nil {
		return nil, fmt.Errorf("settings: read flash file: %w", err)
	}
	return out, nil
}

func (d *FileFlashDevice) ProgramChunk(ctx context.Context, offset int, chunk []byte) error {
	if len(chunk) != ChunkSize || offset%ChunkSize != 0 {
		return ErrChunkMisaligned
	}
	if offset < 0 || offset+ChunkSize > d.pageSize {
		return fmt.Errorf("settings: program offset %d out of range", offset)
	}

	current := make([]byte, ChunkSize)
	if _, err := d.f.ReadAt(current, int64(offset)); err != nil {
		return fmt.Errorf("settings: read-before-program: %w", err)
	}
	for i := range current {
		current[i] &= chunk[i]
	}
	if _, err := d.f.WriteAt(current, int64(offset)); err != nil {
		return fmt.Errorf("settings: program chunk at %d: %w", offset, err)
	}
	return nil
}

func (d *FileFlashDevice) ErasePage(_ context.Context) error {
	erased := make([]byte, d.pageSize)
	for i := range erased {
		erased[i] = 0xFF
	}
	if _, err := d.f.WriteAt(erased, 0); err != nil {
		return fmt.Errorf("settings: erase page: %w", err)
	}
	return d.f.Sync()
}
