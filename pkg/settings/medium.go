package settings

import (
	"sync"

	"github.com/asdine/storm"
	"github.com/pkg/errors"
)

var ErrOutOfRange = errors.New("settings: access beyond end of medium")

// Memory is a volatile medium that starts erased.
type Memory struct {
	lock sync.Mutex
	data [ImageSize]byte
}

func NewMemory() *Memory {
	m := &Memory{}
	for i := range m.data {
		m.data[i] = 0xff
	}
	return m
}

func (m *Memory) ReadAt(p []byte, off int64) (int, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	if off < 0 || off+int64(len(p)) > ImageSize {
		return 0, ErrOutOfRange
	}
	return copy(p, m.data[off:]), nil
}

func (m *Memory) WriteAt(p []byte, off int64) (int, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	if off < 0 || off+int64(len(p)) > ImageSize {
		return 0, ErrOutOfRange
	}
	return copy(m.data[off:], p), nil
}

// record is how the image is kept in the database.
type record struct {
	ID    string `storm:"id"`
	Image []byte
}

const recordID = "eeprom"

// File keeps the image in a storm database so settings survive process restarts.
type File struct {
	lock sync.Mutex
	db   *storm.DB
}

func OpenFile(path string) (*File, error) {
	db, err := storm.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "settings: open %s", path)
	}
	if err := db.Init(&record{}); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "settings: init")
	}
	return &File{db: db}, nil
}

func (f *File) load() ([]byte, error) {
	var rec record
	err := f.db.One("ID", recordID, &rec)
	if err == storm.ErrNotFound {
		img := make([]byte, ImageSize)
		for i := range img {
			img[i] = 0xff
		}
		return img, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "settings: load")
	}
	if len(rec.Image) < ImageSize {
		grown := make([]byte, ImageSize)
		for i := copy(grown, rec.Image); i < ImageSize; i++ {
			grown[i] = 0xff
		}
		rec.Image = grown
	}
	return rec.Image, nil
}

func (f *File) ReadAt(p []byte, off int64) (int, error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	if off < 0 || off+int64(len(p)) > ImageSize {
		return 0, ErrOutOfRange
	}
	img, err := f.load()
	if err != nil {
		return 0, err
	}
	return copy(p, img[off:]), nil
}

func (f *File) WriteAt(p []byte, off int64) (int, error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	if off < 0 || off+int64(len(p)) > ImageSize {
		return 0, ErrOutOfRange
	}
	img, err := f.load()
	if err != nil {
		return 0, err
	}
	n := copy(img[off:], p)
	if err := f.db.Save(&record{ID: recordID, Image: img}); err != nil {
		return 0, errors.Wrap(err, "settings: save")
	}
	return n, nil
}

func (f *File) Close() error {
	return f.db.Close()
}
