// Package merger copies a staged archive tree into the shared output
// directory. Files are applied one by one through a temp-write-then-rename
// step so a crash never leaves a half-written file in place. Merges are
// serialized through a lock: components merged later overwrite files merged
// earlier, and every overwritten path is recorded in the report.
package merger
