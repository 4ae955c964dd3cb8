package downloads

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/parquet-go/parquet-go"
)

const condaBaseURL = "https://anaconda-package-data.s3.amazonaws.com/conda/monthly"

// condaStartYear is the first year with published monthly partitions.
const condaStartYear = 2018

// condaRow is the subset of the monthly partition schema this tool reads.
type condaRow struct {
	PkgName string `parquet:"pkg_name"`
	Counts  int64  `parquet:"counts"`
}

// CondaSource serves aggregate download counts from the Anaconda monthly
// parquet dataset. Partitions are cached on disk across runs; only missing
// months are downloaded.
type CondaSource struct {
	http     *http.Client
	baseURL  string
	cacheDir string
	logger   *log.Logger
	now      func() time.Time
}

func NewCondaSource(cacheDir string, logger *log.Logger) *CondaSource {
	return &CondaSource{
		http:     &http.Client{Timeout: 5 * time.Minute},
		baseURL:  condaBaseURL,
		cacheDir: cacheDir,
		logger:   logger,
		now:      time.Now,
	}
}

// Month identifies one monthly partition.
type Month struct {
	Year  int
	Month int
}

func (m Month) String() string {
	return fmt.Sprintf("%d-%02d", m.Year, m.Month)
}

func (s *CondaSource) partitionPath(m Month) string {
	return filepath.Join(s.cacheDir, m.String()+".parquet")
}

// Sync ensures every published monthly partition is cached locally, walking
// forward from the start year until the provider has no more data. It
// returns the latest month present, or ok=false when nothing is available.
func (s *CondaSource) Sync(ctx context.Context) (latest Month, ok bool, err error) {
	if err := os.MkdirAll(s.cacheDir, 0o755); err != nil {
		return Month{}, false, fmt.Errorf("conda: cache dir: %w", err)
	}

	now := s.now()
	for year := condaStartYear; year <= now.Year(); year++ {
		for month := 1; month <= 12; month++ {
			m := Month{Year: year, Month: month}
			if year == now.Year() && month > int(now.Month()) {
				return latest, ok, nil
			}

			path := s.partitionPath(m)
			if _, statErr := os.Stat(path); statErr == nil {
				latest, ok = m, true
				continue
			}

			exists, headErr := s.remoteExists(ctx, m)
			if headErr != nil {
				return Month{}, false, headErr
			}
			if !exists {
				// Partitions are published in order; the first gap is the end.
				return latest, ok, nil
			}

			if dlErr := s.download(ctx, m, path); dlErr != nil {
				s.logger.Printf("conda: download %s failed: %v", m, dlErr)
				return latest, ok, nil
			}
			latest, ok = m, true
		}
	}
	return latest, ok, nil
}

func (s *CondaSource) remoteExists(ctx context.Context, m Month) (bool, error) {
	url := fmt.Sprintf("%s/%d/%s.parquet", s.baseURL, m.Year, m)
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return false, fmt.Errorf("conda: build request: %w", err)
	}
	resp, err := s.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return false, nil
	}
	_ = resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300, nil
}

func (s *CondaSource) download(ctx context.Context, m Month, path string) error {
	url := fmt.Sprintf("%s/%d/%s.parquet", s.baseURL, m.Year, m)
	s.logger.Printf("conda: downloading %s", url)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("http %d", resp.StatusCode)
	}

	tmp, err := os.CreateTemp(s.cacheDir, m.String()+".parquet.tmp")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// Aggregate sums download counts per package across every cached partition,
// filtered to the given package-name set.
func (s *CondaSource) Aggregate(packages []string) (map[string]int, error) {
	paths, err := filepath.Glob(filepath.Join(s.cacheDir, "*.parquet"))
	if err != nil {
		return nil, fmt.Errorf("conda: list partitions: %w", err)
	}
	sort.Strings(paths)

	totals := make(map[string]int)
	wanted := nameSet(packages)
	for _, path := range paths {
		if err := sumPartition(path, wanted, totals); err != nil {
			return nil, err
		}
	}
	return totals, nil
}

// MonthTotals sums download counts per package for a single partition.
func (s *CondaSource) MonthTotals(m Month, packages []string) (map[string]int, error) {
	totals := make(map[string]int)
	if err := sumPartition(s.partitionPath(m), nameSet(packages), totals); err != nil {
		return nil, err
	}
	return totals, nil
}

func sumPartition(path string, wanted map[string]struct{}, totals map[string]int) error {
	rows, err := parquet.ReadFile[condaRow](path)
	if err != nil {
		return fmt.Errorf("conda: read %s: %w", filepath.Base(path), err)
	}
	for _, row := range rows {
		if _, ok := wanted[row.PkgName]; ok {
			totals[row.PkgName] += int(row.Counts)
		}
	}
	return nil
}

func nameSet(names []string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return set
}
