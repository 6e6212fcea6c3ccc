// Package domain holds the value types shared by the notification pipeline,
// the narrow collaborator interfaces it consumes, and the closed error
// taxonomy every component translates collaborator failures into.
package domain
