package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/sirupsen/logrus"
)

const (
	bucketPrefix = "daily_"
	dayLayout    = "20060102"
	stampLayout  = "20060102_150405"
	photoExt     = ".jpg"

	// variants of one timestamp are numbered _01 to _99
	maxVariant = 99
)

// ErrNoPhotos is returned when a lookup finds no photo
var ErrNoPhotos = errors.New("no photos found")

// Photo is one captured image on disk
type Photo struct {
	Name    string
	Path    string
	Size    int64
	TakenAt time.Time
}

// Bucket is a per-day directory of photos
type Bucket struct {
	Name   string
	Path   string
	Day    time.Time
	Photos []Photo
}

// Store manages the day-bucketed photo tree under a root directory
type Store struct {
	Dir    string
	Prefix string

	log logrus.FieldLogger
}

// New creates a store rooted at dir
func New(dir, prefix string, log logrus.FieldLogger) *Store {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Store{Dir: dir, Prefix: prefix, log: log}
}

// BucketName returns the day-bucket directory name for t
func BucketName(t time.Time) string {
	return bucketPrefix + t.Format(dayLayout)
}

// BucketDir returns the absolute bucket directory for t
func (s *Store) BucketDir(t time.Time) string {
	return filepath.Join(s.Dir, BucketName(t))
}

// PhotoPath returns where a photo taken at t is stored
func (s *Store) PhotoPath(t time.Time) string {
	return filepath.Join(s.BucketDir(t), fmt.Sprintf("%s_%s%s", s.Prefix, t.Format(stampLayout), photoExt))
}

// NextPhotoPath returns PhotoPath(t) when nothing is stored there yet,
// otherwise the first free <prefix>_YYYYMMDD_HHMMSS_NN.jpg. The numbered
// names sort after the plain one, so lexical order stays capture order.
func (s *Store) NextPhotoPath(t time.Time) (string, error) {
	path := s.PhotoPath(t)
	for n := 1; ; n++ {
		_, err := os.Lstat(path)
		if os.IsNotExist(err) {
			return path, nil
		}
		if err != nil {
			return "", fmt.Errorf("failed to check %s: %w", path, err)
		}
		if n > maxVariant {
			return "", fmt.Errorf("too many photos stamped %s", t.Format(stampLayout))
		}
		name := fmt.Sprintf("%s_%s_%02d%s", s.Prefix, t.Format(stampLayout), n, photoExt)
		path = filepath.Join(s.BucketDir(t), name)
	}
}

// Buckets lists day-buckets oldest first, without their photos.
// A missing root directory yields no buckets.
func (s *Store) Buckets() ([]Bucket, error) {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read photos directory: %w", err)
	}

	var buckets []Bucket
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), bucketPrefix) {
			continue
		}
		day, err := time.ParseInLocation(dayLayout, strings.TrimPrefix(e.Name(), bucketPrefix), time.Local)
		if err != nil {
			continue
		}
		buckets = append(buckets, Bucket{
			Name: e.Name(),
			Path: filepath.Join(s.Dir, e.Name()),
			Day:  day,
		})
	}

	sort.Slice(buckets, func(i, j int) bool { return buckets[i].Name < buckets[j].Name })
	return buckets, nil
}

// Photos lists the photos in one bucket directory oldest first
func (s *Store) Photos(bucketDir string) ([]Photo, error) {
	entries, err := os.ReadDir(bucketDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read bucket %s: %w", bucketDir, err)
	}

	var photos []Photo
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), photoExt) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		photos = append(photos, Photo{
			Name:    e.Name(),
			Path:    filepath.Join(bucketDir, e.Name()),
			Size:    info.Size(),
			TakenAt: s.takenAt(e.Name(), info.ModTime()),
		})
	}

	sort.Slice(photos, func(i, j int) bool {
		if !photos[i].TakenAt.Equal(photos[j].TakenAt) {
			return photos[i].TakenAt.Before(photos[j].TakenAt)
		}
		return photos[i].Name < photos[j].Name
	})
	return photos, nil
}

// Inventory lists every bucket with its photos, oldest first
func (s *Store) Inventory() ([]Bucket, error) {
	buckets, err := s.Buckets()
	if err != nil {
		return nil, err
	}
	for i := range buckets {
		photos, err := s.Photos(buckets[i].Path)
		if err != nil {
			return nil, err
		}
		buckets[i].Photos = photos
	}
	return buckets, nil
}

// Latest returns the newest photo in the bucket for day
func (s *Store) Latest(day time.Time) (Photo, error) {
	photos, err := s.Photos(s.BucketDir(day))
	if err != nil {
		return Photo{}, err
	}
	if len(photos) == 0 {
		return Photo{}, ErrNoPhotos
	}
	return photos[len(photos)-1], nil
}

// takenAt reads the capture time from <prefix>_YYYYMMDD_HHMMSS[_NN].jpg,
// falling back to the modification time
func (s *Store) takenAt(name string, mod time.Time) time.Time {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	stamp := strings.TrimPrefix(base, s.Prefix+"_")
	if len(stamp) > len(stampLayout) && stamp[len(stampLayout)] == '_' {
		stamp = stamp[:len(stampLayout)]
	} else if len(stamp) > len(stampLayout) {
		stamp = stamp[len(stamp)-len(stampLayout):]
	}
	t, err := time.ParseInLocation(stampLayout, stamp, time.Local)
	if err != nil {
		return mod
	}
	return t
}

// FreeSpaceMB reports the space available to unprivileged users at path
func FreeSpaceMB(path string) (uint64, error) {
	usage, err := disk.Usage(path)
	if err != nil {
		return 0, fmt.Errorf("failed to check disk space: %w", err)
	}
	return usage.Free / (1024 * 1024), nil
}
