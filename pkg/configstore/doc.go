// Package configstore provides dot-addressed read/write access to the
// Stagehand settings file.
//
// The settings file is a human-edited YAML document. Every write is a
// read-modify-write of the whole document through the yaml.v3 Node API, so
// comments, key order, and unrelated content survive round-trips. Writes are
// atomic (temp file + rename). The store does not interpret the document
// beyond the key paths it is asked for; typed views live in Settings.
package configstore
