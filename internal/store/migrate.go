package store

import "edgeflow/models"

// Migrate creates or updates the pipeline tables.
func Migrate(db *DB) error {
	return db.Gorm.AutoMigrate(
		&models.Market{},
		&models.Edge{},
		&models.User{},
		&models.ArticleChunk{},
	)
}
