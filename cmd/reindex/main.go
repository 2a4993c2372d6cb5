package main

import (
	"flag"
	"fmt"
	"log"

	"meterrelay/internal/config"
	"meterrelay/internal/logger"
	"meterrelay/internal/repository/sqlite"
	"meterrelay/internal/service/storage"
	"meterrelay/internal/vision"
)

// reindex rebuilds the images catalogue from the files in the output
// directory, e.g. after the database was lost or moved.
func main() {
	envFile := flag.String("env", "", "Path to a .env file")
	imagesDir := flag.String("images", "", "Directory containing images (default: IMAGE_DIR)")
	dbPath := flag.String("db", "", "Database path (default: DB_PATH)")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *imagesDir == "" {
		*imagesDir = cfg.ImageDirectory
	}
	if *dbPath == "" {
		*dbPath = cfg.DatabasePath
	}
	if *dbPath == "" {
		log.Fatal("No database configured (set DB_PATH or -db)")
	}

	fmt.Printf("Indexing images from %s into database %s\n", *imagesDir, *dbPath)

	db, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	images := sqlite.NewImageRepository(db)
	store := storage.NewStore(*imagesDir, cfg.DeviceID, vision.JPEGEncoder{Quality: cfg.JPEGQuality}, images, logger.NewWriter(log.Writer(), "WARNING"))

	report, err := store.Reindex()
	if err != nil {
		log.Fatalf("Failed to index images: %v", err)
	}

	fmt.Printf("✅ Added %d images (%d already catalogued)\n", report.Added, report.Present)
	if report.Skipped > 0 {
		fmt.Printf("⚠️  Skipped %d files (invalid format or errors)\n", report.Skipped)
	}

	if total, err := images.Count(); err == nil {
		fmt.Printf("\n📊 Total images in catalogue: %d\n", total)
	}
}
