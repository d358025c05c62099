package storage

import (
	"context"
	"errors"
	"fmt"
	"os"

	logx "remindbot/pkg/logx"
)

// ImportedSuffix is appended to flat files after a successful import.
const ImportedSuffix = ".imported"

type ImportResult struct {
	Users   int
	Repeats int
}

// ImportLegacy copies the flat users/repeats files into dst. Each file that
// was imported is renamed with ImportedSuffix so a restart does not import it
// again over newer data. Missing files are skipped.
func ImportLegacy(ctx context.Context, usersPath, repeatsPath string, dst Stores, log logx.Logger) (ImportResult, error) {
	var res ImportResult
	if log.IsZero() {
		log = logx.Nop()
	}

	if usersPath != "" && fileExists(usersPath) {
		ids, err := readUsers(usersPath)
		if err != nil {
			return res, fmt.Errorf("import users: %w", err)
		}
		for _, id := range ids {
			if err := dst.Subscribers.Add(ctx, id); err != nil {
				if errors.Is(err, ErrInvalidID) {
					log.Warn("legacy import: skipping subscriber", logx.String("id", id))
					continue
				}
				return res, fmt.Errorf("import users: %w", err)
			}
			res.Users++
		}
		if err := os.Rename(usersPath, usersPath+ImportedSuffix); err != nil {
			return res, err
		}
	}

	if repeatsPath != "" && fileExists(repeatsPath) {
		m, err := readRepeats(repeatsPath)
		if err != nil {
			return res, fmt.Errorf("import repeats: %w", err)
		}
		for id, n := range m {
			if err := dst.Repeats.Put(ctx, id, n); err != nil {
				if errors.Is(err, ErrInvalidID) {
					log.Warn("legacy import: skipping repeat count", logx.String("id", id))
					continue
				}
				return res, fmt.Errorf("import repeats: %w", err)
			}
			res.Repeats++
		}
		if err := os.Rename(repeatsPath, repeatsPath+ImportedSuffix); err != nil {
			return res, err
		}
	}

	if res.Users > 0 || res.Repeats > 0 {
		log.Info("legacy flat files imported", logx.Int("users", res.Users), logx.Int("repeats", res.Repeats))
	}
	return res, nil
}

func fileExists(path string) bool {
	st, err := os.Stat(path)
	return err == nil && !st.IsDir()
}
