package versioninfo

import (
	"fmt"

	"github.com/josephspurrier/goversioninfo"
)

// New returns a minimal version resource for images that have none.
func New(lang Language, version [4]uint16) (*Info, error) {
	fv := goversioninfo.FileVersion{
		Major: int(version[0]),
		Minor: int(version[1]),
		Patch: int(version[2]),
		Build: int(version[3]),
	}
	text := fmt.Sprintf("%d.%d.%d.%d", version[0], version[1], version[2], version[3])
	vi := goversioninfo.VersionInfo{
		FixedFileInfo: goversioninfo.FixedFileInfo{
			FileVersion:    fv,
			ProductVersion: fv,
			FileFlagsMask:  "3f",
			FileFlags:      "00",
			FileOS:         "040004",
			FileType:       "01",
			FileSubType:    "00",
		},
		StringFileInfo: goversioninfo.StringFileInfo{
			FileVersion:    text,
			ProductVersion: text,
		},
		VarFileInfo: goversioninfo.VarFileInfo{
			Translation: goversioninfo.Translation{
				LangID:    goversioninfo.LangID(lang.ID),
				CharsetID: goversioninfo.CharsetID(lang.CodePage),
			},
		},
	}
	vi.Build()
	vi.Walk()
	return Decode(vi.Buffer.Bytes())
}
