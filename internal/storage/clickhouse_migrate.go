package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/weather-collector/internal/logging"
)

// RunClickHouseMigrations applies the observation store DDL files in
// lexical order. ClickHouse has no transactional migration table here;
// every statement must be idempotent (CREATE TABLE IF NOT EXISTS and
// friends) so re-running the whole directory is safe.
func RunClickHouseMigrations(db *ClickHouseDB, migrationsPath string) error {
	ctx := context.Background()

	files, err := os.ReadDir(migrationsPath)
	if err != nil {
		return fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var ddlFiles []string
	for _, file := range files {
		if !file.IsDir() && strings.HasSuffix(file.Name(), ".sql") {
			ddlFiles = append(ddlFiles, file.Name())
		}
	}
	sort.Strings(ddlFiles)

	if len(ddlFiles) == 0 {
		logging.WithField("path", migrationsPath).Warn("No observation store DDL files found")
		return nil
	}

	for _, filename := range ddlFiles {
		filePath := filepath.Join(migrationsPath, filename)
		content, err := os.ReadFile(filePath) // #nosec G304 - filePath is constructed from trusted migrationsPath
		if err != nil {
			return fmt.Errorf("failed to read DDL file %s: %w", filename, err)
		}

		statements := splitStatements(string(content))
		logger := logging.WithFields(map[string]interface{}{
			"file":       filename,
			"statements": len(statements),
		})

		for _, stmt := range statements {
			if err := db.Exec(ctx, stmt); err != nil {
				logger.WithError(err).WithField("statement", abbreviate(stmt, 80)).Error("Statement failed")
				return fmt.Errorf("failed to execute statement in %s: %w", filename, err)
			}
		}

		logger.Info("Applied observation store DDL")
	}

	return nil
}

// splitStatements breaks a DDL file into single statements on terminating
// semicolons, dropping comment-only and blank lines. The trailing semicolon
// is stripped; the native protocol rejects it.
func splitStatements(content string) []string {
	var statements []string
	var current strings.Builder

	flush := func() {
		stmt := strings.TrimSuffix(strings.TrimSpace(current.String()), ";")
		if stmt != "" {
			statements = append(statements, stmt)
		}
		current.Reset()
	}

	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}

		current.WriteString(line)
		current.WriteString("\n")

		if strings.HasSuffix(trimmed, ";") {
			flush()
		}
	}
	flush()

	return statements
}

// abbreviate shortens a statement for log output.
func abbreviate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
