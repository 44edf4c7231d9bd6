// Package models contains the relational projection of the federated
// graph: activities, objects, actors and the relationships between
// them, together with the query helpers used to read them back.
package models

import "gorm.io/gorm"

// AutoMigrate creates or updates the schema for all models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Activity{},
		&Object{},
		&Actor{},
		&Account{},
		&MutedWord{},
		&Follow{},
		&CacheItem{},
		&Instance{},
		&Unprocessable{},
	)
}
