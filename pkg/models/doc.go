// Package models contains shared data models used across the scribe codebase.
package models
