// Command mkfs builds a formatted disk image and populates it from a host
// skeleton directory, the host-side counterpart to the FS server (spec
// §4.8's fs_format / the teacher kernel's mkfs.go). It runs the same
// Fs_t/Cache_t machinery the in-process FS server uses, driving it directly
// from a single bootstrapped environment rather than over IPC, since there
// is exactly one caller and no other environment to rendezvous with.
package main

import (
	"flag"
	"fmt"
	"io"
	iofs "io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"

	"corekernel/defs"
	corefs "corekernel/fs"
	"corekernel/kernel"
	"corekernel/ustr"

	diskpkg "corekernel/disk"
)

func main() {
	nblocks := flag.Int("nblocks", 4096, "total filesystem blocks")
	skeldir := flag.String("skel", "", "host directory tree to copy into the image")
	out := flag.String("out", "fs.img", "output disk image path")
	flag.Parse()

	k := kernel.New(*nblocks + 1024) // fs blocks plus headroom for the walk's own bookkeeping
	self, err := k.Boot()
	if err != defs.EOK {
		log.Fatalf("mkfs: boot: %v", err)
	}

	disk := diskpkg.New(*nblocks * corefs.BSIZE / diskpkg.SectorSize)
	fsys, ferr := corefs.FormatFs(k, self.ID, disk, *nblocks)
	if ferr != defs.EOK {
		log.Fatalf("mkfs: format: %v", ferr)
	}

	if *skeldir != "" {
		if werr := addTree(fsys, *skeldir); werr != nil {
			log.Fatalf("mkfs: %v", werr)
		}
	}

	if serr := fsys.FsSync(); serr != defs.EOK {
		log.Fatalf("mkfs: sync: %v", serr)
	}

	if werr := os.WriteFile(*out, disk.Bytes(), 0644); werr != nil {
		log.Fatalf("mkfs: write image: %v", werr)
	}
	fmt.Printf("mkfs: wrote %s (%d blocks)\n", *out, *nblocks)
}

// addTree walks skeldir on the host and replicates it into fsys, grounded
// on the teacher kernel's mkfs.go addfiles/copydata pair.
func addTree(fsys *corefs.Fs_t, skeldir string) error {
	return filepath.WalkDir(skeldir, func(path string, d iofs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel := strings.TrimPrefix(path, skeldir)
		rel = strings.TrimPrefix(rel, "/")
		if rel == "" {
			return nil
		}
		dst := ustr.Ustr("/" + rel)

		if d.IsDir() {
			if _, cerr := fsys.FileCreate(dst, corefs.TDir); cerr != defs.EOK {
				return fmt.Errorf("mkdir %s: %v", rel, cerr)
			}
			return nil
		}

		f, cerr := fsys.FileCreate(dst, corefs.TFile)
		if cerr != defs.EOK {
			return fmt.Errorf("create %s: %v", rel, cerr)
		}
		return copyData(fsys, f, path)
	})
}

// copyData streams the host file at src into f, fs.BSIZE bytes at a time.
func copyData(fsys *corefs.Fs_t, f *corefs.File_t, src string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	buf := make([]byte, corefs.BSIZE)
	var off uint32
	for {
		n, rerr := in.Read(buf)
		if n > 0 {
			if werr := fsys.WriteAt(f, off, buf[:n]); werr != defs.EOK {
				return fmt.Errorf("write %s: %v", src, werr)
			}
			off += uint32(n)
		}
		if rerr == io.EOF {
			return nil
		}
		if rerr != nil {
			return rerr
		}
	}
}
