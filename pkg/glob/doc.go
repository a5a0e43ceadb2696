// Package glob implements server-compatible glob matching for channel
// names and key patterns.
//
// The matcher supports the same syntax the server's pattern commands
// use:
//
//   - `*` matches any sequence of characters, including none
//   - `?` matches exactly one character
//   - `[abc]` matches one listed character
//   - `[a-z]` matches one character in the range
//   - `[^abc]` matches one character not listed
//   - `\x` matches the literal character x
//
// Dispatch correctness depends on client-side matching agreeing with
// the server, so this is a dedicated matcher rather than a regexp
// translation.
package glob
