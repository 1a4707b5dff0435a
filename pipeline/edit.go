package pipeline

import (
	"context"
	"strings"

	"github.com/maja42/exeup/errdefs"
	"github.com/maja42/exeup/icon"
	"github.com/maja42/exeup/manifest"
	"github.com/maja42/exeup/resource"
	"github.com/maja42/exeup/versioninfo"
	"gitlab.com/tozd/go/errors"
)

var (
	rtVersion   = resource.ID(resource.RTVersion)
	rtGroupIcon = resource.ID(resource.RTGroupIcon)
	rtManifest  = resource.ID(resource.RTManifest)
	rtRCData    = resource.ID(resource.RTRCData)
)

func (r *run) edit(_ context.Context) error {
	if err := r.editVersion(); err != nil {
		return errors.Errorf("version info: %w", err)
	}
	if len(r.icons) > 0 {
		if err := r.editIcon(); err != nil {
			return errors.Errorf("icon: %w", err)
		}
	}
	if err := r.editManifest(); err != nil {
		return errors.Errorf("manifest: %w", err)
	}
	if r.opts.PayloadResource != "" {
		// resource names are stored upper case
		name := resource.Name(strings.ToUpper(r.opts.PayloadResource))
		r.tree.Put(rtRCData, name, r.opts.Language.ID, r.payload)
		r.logger.Debug("payload stored as resource", "name", name, "size", len(r.payload))
	}
	r.enter(Edited, "Resources edited", 75)
	return nil
}

func (r *run) editVersion() error {
	lang := r.opts.Language

	var info *versioninfo.Info
	name, resLang, ok := r.tree.First(rtVersion)
	if ok {
		data, err := r.tree.Get(rtVersion, name, resLang)
		if err != nil {
			return err
		}
		if info, err = versioninfo.Decode(data); err != nil {
			return err
		}
	} else {
		var version [4]uint16
		if r.opts.version != nil {
			version = *r.opts.version
		}
		var err error
		if info, err = versioninfo.New(lang, version); err != nil {
			return err
		}
		name, resLang = resource.ID(1), lang.ID
		r.logger.Debug("donor has no version info, creating one")
	}

	info.RemoveString(lang, versioninfo.KeyOriginalFilename)
	info.RemoveString(lang, versioninfo.KeyInternalName)
	if v := r.opts.version; v != nil {
		info.SetVersionNumbers(v[:]...)
	}
	if len(r.opts.Properties) > 0 {
		info.SetStrings(lang, r.opts.Properties)
	}

	data, err := info.Encode()
	if err != nil {
		return err
	}
	r.tree.Put(rtVersion, name, resLang, data)
	return nil
}

func (r *run) editIcon() error {
	group, lang := resource.ID(1), r.opts.Language.ID
	if !r.tree.Has(rtGroupIcon, group, lang) {
		if name, l, ok := r.tree.First(rtGroupIcon); ok {
			group, lang = name, l
		}
	}
	r.logger.Debug("replacing icons", "group", group, "lang", lang, "images", len(r.icons))
	return icon.ReplaceIcons(r.tree, group, lang, r.icons)
}

func (r *run) editManifest() error {
	level := r.opts.level
	name, lang, ok := r.tree.First(rtManifest)
	if !ok {
		if level == manifest.AsInvoker {
			return nil // no manifest is equivalent to asInvoker
		}
		text, err := manifest.New(level)
		if err != nil {
			return err
		}
		r.tree.Put(rtManifest, resource.ID(1), r.opts.Language.ID, text)
		return nil
	}

	text, err := r.tree.Get(rtManifest, name, lang)
	if err != nil {
		return err
	}
	patched, err := manifest.SetExecutionLevel(text, level)
	if errors.Is(err, errdefs.ErrTokenNotFound) && level == manifest.AsInvoker {
		r.logger.Debug("manifest has no execution level, keeping it")
		return nil
	}
	if err != nil {
		return err
	}
	r.tree.Put(rtManifest, name, lang, patched)
	return nil
}
