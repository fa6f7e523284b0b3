// Package confkit holds the config plumbing shared by the server and cron
// binaries: .env bootstrapping, repository-root discovery, and hydration of
// config sections that live in their own files.
package confkit

// Section declares a config block loaded from a separate file. File is the
// path as written in the main config; after Hydrate it holds the resolved
// absolute path and Value holds the parsed content.
type Section[T any] struct {
	File  string `json:",optional"`
	Value *T     `json:"-"`
}

// Hydrate resolves File against base and runs the loader on it. An empty
// File leaves the section unloaded, which callers treat as "not configured".
func (s *Section[T]) Hydrate(base string, loader func(string) (*T, error)) error {
	if s.File == "" {
		return nil
	}
	path := ResolvePath(base, s.File)
	value, err := loader(path)
	if err != nil {
		return err
	}
	s.File = path
	s.Value = value
	return nil
}
