package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"meterrelay/internal/atomicfile"
	"meterrelay/internal/logger"
	"meterrelay/internal/model"
	"meterrelay/internal/repository"
)

// TimestampLayout is the timestamp part of stored filenames.
const TimestampLayout = "20060102_150405"

// Encoder compresses a frame into the stored file format.
type Encoder interface {
	Ext() string
	Encode(frame model.Frame) ([]byte, error)
}

// Store writes captured images to the output directory and applies the
// retention policy.
type Store struct {
	dir       string
	deviceID  string
	encoder   Encoder
	imageRepo repository.ImageRepository
	logger    *logger.Logger
}

// NewStore creates a Store. imageRepo may be nil, in which case nothing is catalogued.
func NewStore(dir, deviceID string, encoder Encoder, imageRepo repository.ImageRepository, log *logger.Logger) *Store {
	if log == nil {
		log = logger.NewNop()
	}
	return &Store{
		dir:       dir,
		deviceID:  deviceID,
		encoder:   encoder,
		imageRepo: imageRepo,
		logger:    log,
	}
}

// Dir returns the output directory.
func (s *Store) Dir() string { return s.dir }

// Filename returns the deterministic name for an image taken at ts.
func (s *Store) Filename(ts time.Time) string {
	return fmt.Sprintf("%s_%s%s", s.deviceID, ts.Format(TimestampLayout), s.encoder.Ext())
}

// Save encodes frame and writes it as {device}_{timestamp}.jpg. The file
// appears atomically; a failed save leaves no partial file behind.
func (s *Store) Save(frame model.Frame, detected bool, ts time.Time, cycleID string) (model.StoredImage, error) {
	if !model.ValidFrame(frame) {
		return model.StoredImage{}, model.NewFault(model.ErrStorage, "save", fmt.Errorf("empty frame"))
	}

	data, err := s.encoder.Encode(frame)
	if err != nil {
		return model.StoredImage{}, model.NewFault(model.ErrStorage, "encode", err)
	}

	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return model.StoredImage{}, model.NewFault(model.ErrStorage, "mkdir", err)
	}

	filename := s.Filename(ts)
	fullpath := filepath.Join(s.dir, filename)
	if err := atomicfile.Write(fullpath, data); err != nil {
		return model.StoredImage{}, model.NewFault(model.ErrStorage, "write", err)
	}

	stored := model.StoredImage{
		Path:     fullpath,
		Filename: filename,
		Size:     int64(len(data)),
		Detected: detected,
	}

	if s.imageRepo != nil {
		if _, err := s.imageRepo.Insert(&model.Image{
			Filename:  filename,
			DeviceID:  s.deviceID,
			CycleID:   cycleID,
			Timestamp: ts,
			FilePath:  fullpath,
			FileSize:  stored.Size,
			Detected:  detected,
		}); err != nil {
			s.logger.Error("Error saving image to database %s: %v", filename, err)
		}
	}

	s.logger.Info("Saved %s (%.1f KB, detected=%v)", filename, stored.SizeKB(), detected)
	return stored, nil
}

// MarkDelivered records a successful upload in the catalogue.
func (s *Store) MarkDelivered(stored model.StoredImage) {
	if s.imageRepo == nil {
		return
	}
	if err := s.imageRepo.MarkDelivered(stored.Filename); err != nil {
		s.logger.Warning("Error marking %s delivered: %v", stored.Filename, err)
	}
}

// PruneReport summarizes one retention pass.
type PruneReport struct {
	Kept      int
	Deleted   int
	Protected int
	Failed    int
}

type storedFile struct {
	path    string
	modTime time.Time
}

// Prune keeps every protected file plus the newest unprotected files until
// keep files remain, and deletes the rest. Deletion errors are logged.
func (s *Store) Prune(keep int, protected []string) PruneReport {
	var report PruneReport

	files, err := s.list()
	if err != nil {
		s.logger.Warning("Prune skipped: %v", err)
		return report
	}

	guard := make(map[string]bool, len(protected))
	for _, p := range protected {
		guard[normalize(p)] = true
	}

	var unprotected []storedFile
	for _, f := range files {
		if guard[normalize(f.path)] {
			report.Protected++
			continue
		}
		unprotected = append(unprotected, f)
	}

	budget := keep - report.Protected
	if budget < 0 {
		budget = 0
	}
	if budget > len(unprotected) {
		budget = len(unprotected)
	}
	report.Kept = report.Protected + budget

	for _, f := range unprotected[budget:] {
		if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
			s.logger.Warning("Failed to delete %s: %v", f.path, err)
			report.Failed++
			report.Kept++
			continue
		}
		report.Deleted++
		if s.imageRepo != nil {
			if err := s.imageRepo.DeleteByFilepath(f.path); err != nil {
				s.logger.Warning("Error removing %s from database: %v", f.path, err)
			}
		}
	}

	if report.Deleted > 0 {
		s.logger.Info("Pruned %d images (kept %d, %d pending upload)", report.Deleted, report.Kept, report.Protected)
	}
	return report
}

// list returns stored images, newest first.
func (s *Store) list() ([]storedFile, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	ext := s.encoder.Ext()
	files := make([]storedFile, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.EqualFold(filepath.Ext(name), ext) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, storedFile{path: filepath.Join(s.dir, name), modTime: info.ModTime()})
	}

	sort.Slice(files, func(i, j int) bool {
		if files[i].modTime.Equal(files[j].modTime) {
			return files[i].path > files[j].path
		}
		return files[i].modTime.After(files[j].modTime)
	})
	return files, nil
}

func normalize(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return filepath.Clean(p)
}

// ParseFilename splits a stored filename into device id and capture time.
// The device id may itself contain underscores.
func ParseFilename(name string) (string, time.Time, error) {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	split := len(base) - len(TimestampLayout)
	if split < 2 || base[split-1] != '_' {
		return "", time.Time{}, fmt.Errorf("invalid filename format: %s", name)
	}

	ts, err := time.ParseInLocation(TimestampLayout, base[split:], time.Local)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("invalid timestamp in %s: %w", name, err)
	}
	return base[:split-1], ts, nil
}

// ReindexReport summarizes a catalogue rebuild.
type ReindexReport struct {
	Added   int
	Present int
	Skipped int
}

// Reindex adds stored images missing from the catalogue. Files whose name
// does not parse are skipped. Detection and delivery state of re-added files
// is unknown and recorded as false.
func (s *Store) Reindex() (ReindexReport, error) {
	var report ReindexReport
	if s.imageRepo == nil {
		return report, fmt.Errorf("no image catalogue configured")
	}

	files, err := s.list()
	if err != nil {
		return report, fmt.Errorf("failed to read images directory: %w", err)
	}

	for _, f := range files {
		name := filepath.Base(f.path)
		deviceID, ts, err := ParseFilename(name)
		if err != nil {
			s.logger.Warning("Skipping %s: %v", name, err)
			report.Skipped++
			continue
		}

		existing, err := s.imageRepo.GetByFilename(name)
		if err != nil {
			return report, err
		}
		if existing != nil {
			report.Present++
			continue
		}

		info, err := os.Stat(f.path)
		if err != nil {
			s.logger.Warning("Failed to get info for %s: %v", name, err)
			report.Skipped++
			continue
		}

		if _, err := s.imageRepo.Insert(&model.Image{
			Filename:  name,
			DeviceID:  deviceID,
			Timestamp: ts,
			FilePath:  f.path,
			FileSize:  info.Size(),
		}); err != nil {
			return report, err
		}
		report.Added++
	}
	return report, nil
}
