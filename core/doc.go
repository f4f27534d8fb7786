// Package core defines the task domain model and its validation rules.
//
// Types here carry both json and bson tags: the same struct is written to
// MongoDB by the storage package and returned by the HTTP API.
package core
