// This file is part of pcr-oracle
// Copyright 2021 Canonical Ltd.
// SPDX-License-Identifier: GPL-3.0-only

// Package vfs abstracts away the filesystem so that the event log reader
// and the rehash engine's file providers can be exercised against an
// in-memory filesystem in tests.
package vfs

import (
	"io"
	"os"
)

// FS abstracts the subset of filesystem operations this repository needs.
type FS interface {
	// Create behaves like os.Create.
	Create(path string) (io.WriteCloser, error)
	// Open behaves like os.Open.
	Open(path string) (io.ReadCloser, error)
	// ReadDir behaves like os.ReadDir.
	ReadDir(path string) ([]os.DirEntry, error)
	// Stat behaves like os.Stat.
	Stat(path string) (os.FileInfo, error)
	// Rename behaves like os.Rename.
	Rename(oldpath, newpath string) error
	// Remove behaves like os.Remove.
	Remove(path string) error
}

type realFS struct{}

func (realFS) Create(path string) (io.WriteCloser, error) { return os.Create(path) }
func (realFS) Open(path string) (io.ReadCloser, error)     { return os.Open(path) }
func (realFS) ReadDir(path string) ([]os.DirEntry, error)  { return os.ReadDir(path) }
func (realFS) Stat(path string) (os.FileInfo, error)       { return os.Stat(path) }
func (realFS) Rename(oldpath, newpath string) error        { return os.Rename(oldpath, newpath) }
func (realFS) Remove(path string) error                    { return os.Remove(path) }

// Default is the real, OS-backed filesystem.
var Default FS = realFS{}

// WriteFileAtomic writes data to path by creating a temporary sibling file
// and renaming it into place, so that a crash or error never leaves a
// partially-written artifact at path.
func WriteFileAtomic(fs FS, path string, data []byte) (err error) {
	tmp := path + ".tmp"
	f, err := fs.Create(tmp)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			fs.Remove(tmp)
		}
	}()

	if _, err = f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err = f.Close(); err != nil {
		return err
	}
	return fs.Rename(tmp, path)
}
