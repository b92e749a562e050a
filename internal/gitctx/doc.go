// Package gitctx reads diffs and repository metadata from a local git
// checkout by shelling out to git.
//
// It is used when diffreview runs outside CI with neither a piped diff nor
// a pull-request number: the diff of a revision range is reviewed instead.
package gitctx
