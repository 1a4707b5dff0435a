package main

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/maja42/exeup"
	"github.com/maja42/exeup/embedding"
	"github.com/maja42/exeup/icon"
	"github.com/maja42/exeup/internal"
	"github.com/maja42/exeup/manifest"
	"github.com/maja42/exeup/pefile"
	"github.com/maja42/exeup/resource"
	"github.com/maja42/exeup/versioninfo"
)

func runInspect(_ context.Context, a *app, args []string) error {
	fs := commandFlags("inspect")
	sentinel := fs.String("fuse-sentinel", internal.DefaultFuseSentinel(), "fuse sentinel to report")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return fmt.Errorf("expected exactly one executable")
	}
	path := fs.Arg(0)

	buf, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	img, err := pefile.Parse(buf, pefile.WithLogger(a.logger))
	if err != nil {
		return err
	}
	fmt.Printf("%s: machine 0x%x, PE32+ %v, %s, signed %v\n",
		path, img.Machine(), img.PE32Plus(), plural(len(img.Sections()), "section"), img.Signed())
	for _, s := range img.Sections() {
		fmt.Printf("  %-8s va 0x%08x vsize 0x%08x raw 0x%08x+0x%x\n",
			s.Name, s.VirtualAddress, s.VirtualSize, s.PointerToRawData, s.SizeOfRawData)
	}

	fuse, err := embedding.ReadFuse(buf, *sentinel)
	switch {
	case err != nil:
		fmt.Printf("fuse: %s\n", err)
	case !fuse.Found():
		fmt.Println("fuse: not present")
	default:
		fmt.Printf("fuse: offset %d, armed %v\n", fuse.Offset, fuse.Armed)
	}
	if *sentinel == internal.DefaultFuseSentinel() {
		if p, err := exeup.OpenExe(path); err == nil {
			fmt.Printf("payload: %d bytes at offset %d\n", p.Size(), p.Offset())
			_ = p.Close()
		}
	}

	tree, err := resource.Parse(img)
	if err != nil {
		return err
	}
	fmt.Printf("resources: %d\n", tree.Len())
	for _, e := range tree.Entries() {
		fmt.Printf("  %-6s %-16s lang %5d  %d bytes\n", e.Type, e.Name, e.Lang, len(e.Data))
	}
	printVersion(tree)
	printIcons(tree)
	printManifest(tree)
	return nil
}

func printVersion(tree *resource.Tree) {
	typ := resource.ID(resource.RTVersion)
	name, lang, ok := tree.First(typ)
	if !ok {
		return
	}
	data, _ := tree.Get(typ, name, lang)
	info, err := versioninfo.Decode(data)
	if err != nil {
		fmt.Printf("version info: %s\n", err)
		return
	}
	fv, pv := info.FileVersion(), info.ProductVersion()
	fmt.Printf("file version %d.%d.%d.%d, product version %d.%d.%d.%d\n",
		fv[0], fv[1], fv[2], fv[3], pv[0], pv[1], pv[2], pv[3])
	for _, l := range info.Languages() {
		keys := info.Keys(l)
		sort.Strings(keys)
		for _, k := range keys {
			v, _ := info.String(l, k)
			fmt.Printf("  [%d/%d] %s = %q\n", l.ID, l.CodePage, k, v)
		}
	}
}

func printIcons(tree *resource.Tree) {
	typ := resource.ID(resource.RTGroupIcon)
	for _, name := range tree.Names(typ) {
		for _, lang := range tree.Languages(typ, name) {
			images, err := icon.Images(tree, name, lang)
			if err != nil {
				fmt.Printf("icon group %s: %s\n", name, err)
				continue
			}
			fmt.Printf("icon group %s (lang %d):", name, lang)
			for _, img := range images {
				fmt.Printf(" %dx%d/%dbpp", img.Width, img.Height, img.BitCount)
			}
			fmt.Println()
		}
	}
}

func printManifest(tree *resource.Tree) {
	typ := resource.ID(resource.RTManifest)
	name, lang, ok := tree.First(typ)
	if !ok {
		return
	}
	text, _ := tree.Get(typ, name, lang)
	level, err := manifest.CurrentLevel(text)
	if err != nil {
		fmt.Printf("manifest: %s\n", err)
		return
	}
	fmt.Printf("manifest: execution level %s\n", level)
}
