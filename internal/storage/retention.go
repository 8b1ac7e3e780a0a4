package storage

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

// RetentionPolicy bounds what stays on disk. A zero field disables its rule.
type RetentionPolicy struct {
	MaxBuckets   int
	MaxAgeDays   int
	MaxPerBucket int
}

// Enabled reports whether any rule is active
func (p RetentionPolicy) Enabled() bool {
	return p.MaxBuckets > 0 || p.MaxAgeDays > 0 || p.MaxPerBucket > 0
}

// Removal is one path deleted by a retention pass
type Removal struct {
	Path   string
	Bucket bool
	Rule   string
}

// ApplyRetention deletes the oldest buckets beyond MaxBuckets, buckets older
// than MaxAgeDays and the oldest photos beyond MaxPerBucket. A failed removal
// is logged and the pass continues; the joined errors are returned alongside
// everything that was removed.
func (s *Store) ApplyRetention(now time.Time, p RetentionPolicy) ([]Removal, error) {
	if !p.Enabled() {
		return nil, nil
	}

	buckets, err := s.Buckets()
	if err != nil {
		return nil, err
	}

	var (
		removed []Removal
		errs    []error
		kept    []Bucket
	)

	doomed := make(map[string]string)
	if p.MaxBuckets > 0 && len(buckets) > p.MaxBuckets {
		for _, b := range buckets[:len(buckets)-p.MaxBuckets] {
			doomed[b.Path] = "max_buckets"
		}
	}
	if p.MaxAgeDays > 0 {
		y, m, d := now.Date()
		cutoff := time.Date(y, m, d, 0, 0, 0, 0, now.Location()).AddDate(0, 0, -p.MaxAgeDays)
		for _, b := range buckets {
			if b.Day.Before(cutoff) {
				if _, ok := doomed[b.Path]; !ok {
					doomed[b.Path] = "max_age_days"
				}
			}
		}
	}

	for _, b := range buckets {
		rule, ok := doomed[b.Path]
		if !ok {
			kept = append(kept, b)
			continue
		}
		if err := os.RemoveAll(b.Path); err != nil {
			s.log.WithError(err).WithField("bucket", b.Name).Error("Failed to remove bucket")
			errs = append(errs, fmt.Errorf("remove bucket %s: %w", b.Name, err))
			continue
		}
		s.log.WithFields(logrus.Fields{"bucket": b.Name, "rule": rule}).Info("Removed old bucket")
		removed = append(removed, Removal{Path: b.Path, Bucket: true, Rule: rule})
	}

	if p.MaxPerBucket > 0 {
		for _, b := range kept {
			photos, err := s.Photos(b.Path)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if len(photos) <= p.MaxPerBucket {
				continue
			}
			for _, photo := range photos[:len(photos)-p.MaxPerBucket] {
				if err := os.Remove(photo.Path); err != nil {
					s.log.WithError(err).WithField("photo", photo.Path).Error("Failed to remove photo")
					errs = append(errs, fmt.Errorf("remove photo %s: %w", photo.Name, err))
					continue
				}
				s.log.WithField("photo", photo.Name).Info("Removed old photo")
				removed = append(removed, Removal{Path: photo.Path, Rule: "max_per_bucket"})
			}
		}
	}

	return removed, errors.Join(errs...)
}
