// Package state persists the keeper's version marker and backup bookkeeping
// between runs. The record lives in a small YAML file inside the keeper's
// working directory and is only rewritten after a step has fully succeeded.
package state
