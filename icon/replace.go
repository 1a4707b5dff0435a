package icon

import (
	"github.com/maja42/exeup/resource"
	"gitlab.com/tozd/go/errors"
)

// ReplaceIcons replaces the images of an icon group.
// RT_ICON leaves only referenced by the replaced group, as well as RT_ICON leaves not referenced
// by any group, are removed. New images receive the lowest unused IDs starting at 1.
// The group is created if it does not exist.
func ReplaceIcons(tree *resource.Tree, group resource.Identifier, lang uint16, images []Image) error {
	if len(images) == 0 {
		return invalid("no icon images given")
	}
	if len(images) > 0xFFFF {
		return invalid("too many icon images (%d)", len(images))
	}
	groupID := resource.ID(resource.RTGroupIcon)
	iconID := resource.ID(resource.RTIcon)

	// IDs still in use by the other groups
	keep := make(map[uint16]bool)
	for _, e := range tree.Entries() {
		if e.Type != groupID || (e.Name == group && e.Lang == lang) {
			continue
		}
		g, err := DecodeGroup(e.Data)
		if err != nil {
			return errors.Errorf("icon group %s/%d: %w", e.Name, e.Lang, err)
		}
		for _, id := range g.IDs() {
			keep[id] = true
		}
	}

	used := make(map[uint16]bool)
	for _, e := range tree.Entries() {
		if e.Type != iconID {
			continue
		}
		if e.Name.IsName() || !keep[e.Name.ID] {
			tree.Delete(iconID, e.Name, e.Lang)
			continue
		}
		used[e.Name.ID] = true
	}

	g := &Group{Entries: make([]GroupEntry, len(images))}
	next := uint16(1)
	for i, img := range images {
		for used[next] {
			next++
		}
		used[next] = true
		tree.Put(iconID, resource.ID(next), lang, img.Data)
		g.Entries[i] = GroupEntry{
			Width:      dimension(img.Width),
			Height:     dimension(img.Height),
			ColorCount: img.ColorCount,
			Planes:     img.Planes,
			BitCount:   img.BitCount,
			BytesInRes: uint32(len(img.Data)),
			ID:         next,
		}
	}

	data, err := g.Encode()
	if err != nil {
		return err
	}
	tree.Put(groupID, group, lang, data)
	return nil
}

// Images returns the images of an icon group in group order.
func Images(tree *resource.Tree, group resource.Identifier, lang uint16) ([]Image, error) {
	data, err := tree.Get(resource.ID(resource.RTGroupIcon), group, lang)
	if err != nil {
		return nil, err
	}
	g, err := DecodeGroup(data)
	if err != nil {
		return nil, err
	}
	images := make([]Image, 0, len(g.Entries))
	for _, e := range g.Entries {
		img, err := tree.Get(resource.ID(resource.RTIcon), resource.ID(e.ID), lang)
		if err != nil {
			return nil, errors.Errorf("icon %d of group %s: %w", e.ID, group, err)
		}
		images = append(images, Image{
			Width:      pixels(e.Width),
			Height:     pixels(e.Height),
			ColorCount: e.ColorCount,
			Planes:     e.Planes,
			BitCount:   e.BitCount,
			Data:       img,
		})
	}
	return images, nil
}
