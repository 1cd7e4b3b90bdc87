// Package versions implements persistence for the install record.
//
// The FileRepository stores and loads the installed-version map as YAML on
// disk and exposes a Repository interface that the installer service depends
// on for its skip-if-up-to-date decision.
package versions
