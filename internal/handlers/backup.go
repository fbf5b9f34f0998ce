package handlers

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/neogan74/auditlens/internal/logger"
	"github.com/neogan74/auditlens/internal/middleware"
)

// Backupper is implemented by engines that can snapshot themselves to a file.
type Backupper interface {
	Backup(path string) (uint64, error)
}

// BackupHandler handles backup operations
type BackupHandler struct {
	engine Backupper
	dir    string
	log    logger.Logger
}

// NewBackupHandler creates a new backup handler. engine may be nil when the
// configured store cannot be backed up.
func NewBackupHandler(engine Backupper, dir string, log logger.Logger) *BackupHandler {
	if dir == "" {
		dir = "./backups"
	}
	return &BackupHandler{
		engine: engine,
		dir:    dir,
		log:    log,
	}
}

// CreateBackup writes a snapshot of the event store
func (h *BackupHandler) CreateBackup(c *fiber.Ctx) error {
	log := middleware.GetLogger(c)

	if h.engine == nil {
		return middleware.BadRequest(c, "Backup not available for the configured storage engine")
	}

	if err := os.MkdirAll(h.dir, 0o755); err != nil {
		log.Error("Failed to create backup directory", logger.Error(err))
		return middleware.InternalServerError(c, "Failed to create backup")
	}

	timestamp := time.Now().Format("20060102-150405")
	backupPath := filepath.Join(h.dir, fmt.Sprintf("auditlens-backup-%s.bak", timestamp))

	version, err := h.engine.Backup(backupPath)
	if err != nil {
		log.Error("Failed to create backup", logger.Error(err))
		return middleware.InternalServerError(c, "Failed to create backup")
	}

	log.Info("Backup created successfully", logger.String("path", backupPath))

	return c.JSON(fiber.Map{
		"message":     "Backup created successfully",
		"backup_path": backupPath,
		"version":     version,
		"timestamp":   timestamp,
	})
}

// BackupFile describes one snapshot on disk.
type BackupFile struct {
	Name      string    `json:"name"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

// ListBackups lists snapshots in the backup directory, newest first.
func (h *BackupHandler) ListBackups(c *fiber.Ctx) error {
	if h.engine == nil {
		return middleware.BadRequest(c, "Backup listing not available for the configured storage engine")
	}

	matches, err := filepath.Glob(filepath.Join(h.dir, "auditlens-backup-*.bak"))
	if err != nil {
		return middleware.InternalServerError(c, "Failed to list backups")
	}

	files := make([]BackupFile, 0, len(matches))
	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		files = append(files, BackupFile{Name: filepath.Base(path), Size: info.Size(), CreatedAt: info.ModTime()})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name > files[j].Name })

	return c.JSON(fiber.Map{"backups": files, "count": len(files)})
}
