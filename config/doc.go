// Package config resolves database connection credentials from an ordered
// cascade of sources: ROAM_DB_* environment variables, the user's
// ~/.roam/database.properties file, and finally development defaults.
package config
