package fsmigration

import (
	"context"
	"io/fs"
	"path/filepath"

	"github.com/tphakala/migration-assistant/internal/errors"
	"github.com/tphakala/migration-assistant/internal/logger"
	"github.com/tphakala/migration-assistant/internal/upload"
)

// Crawler lists the regular files below a home directory.
type Crawler struct {
	root   string
	logger logger.Logger
}

// NewCrawler creates a crawler rooted at home.
func NewCrawler(home string) *Crawler {
	return &Crawler{root: home, logger: GetLogger().Module("crawler")}
}

// Crawl walks the home directory and returns the paths of its regular files
// relative to the home directory. Every file found is counted on report.
// Entries that cannot be read are recorded as failures and skipped.
func (c *Crawler) Crawl(ctx context.Context, report *upload.Report) ([]string, error) {
	root, err := filepath.Abs(c.root)
	if err != nil {
		return nil, err
	}

	var files []string
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, walkErr error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if walkErr != nil {
			if p == root {
				return walkErr
			}
			c.logger.Warn("unable to read path", logger.String("path", p), logger.Error(walkErr))
			report.ReportFailure(p, walkErr.Error())
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		files = append(files, rel)
		report.ReportFileFound()
		return nil
	})
	if err != nil {
		return nil, errors.New(err).
			Component("fsmigration").
			Category(errors.CategoryFileIO).
			Context("root", root).
			Build()
	}

	c.logger.Info("crawl complete", logger.String("root", root), logger.Int("files", len(files)))
	return files, nil
}
