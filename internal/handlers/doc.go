// Package handlers provides the HTTP handlers for the staging API.
//
// It includes handlers for:
//   - Allocating upload slots (/init)
//   - Uploading and downloading staged files (/push, /pull)
//   - Running ffmpeg conversions on staged files (/convert)
//   - Releasing slots early (/file)
//   - Health, readiness and version reporting
package handlers
