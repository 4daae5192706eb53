package main

import (
	"fmt"
	"io"
	"runtime"
	"runtime/debug"
	"strings"

	"github.com/spf13/cobra"
)

const modulePath = "github.com/joshuapare/heapkit"

// Set through -ldflags by release builds. Empty values fall back to the
// VCS stamp of the build info.
var (
	version string
	commit  string
	date    string
)

var versionDeps bool

type moduleVersion struct {
	Path    string `json:"path"`
	Version string `json:"version"`
	Replace string `json:"replace,omitempty"`
}

type buildVersion struct {
	Version  string          `json:"version"`
	Commit   string          `json:"commit,omitempty"`
	Date     string          `json:"date,omitempty"`
	Modified bool            `json:"modified,omitempty"`
	Go       string          `json:"go"`
	Platform string          `json:"platform"`
	Deps     []moduleVersion `json:"deps,omitempty"`
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version and build information",
	Long: `Print the heapctl version, the commit it was built from and the
Go toolchain. With --deps the versions of every linked module are listed.

Example:
  heapctl version
  heapctl version --deps --json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		info, _ := debug.ReadBuildInfo()
		v := readBuildVersion(info, versionDeps)
		if jsonOut {
			return printJSON(cmd.OutOrStdout(), v)
		}
		printBuildVersion(cmd.OutOrStdout(), v)
		return nil
	},
}

func init() {
	versionCmd.Flags().BoolVar(&versionDeps, "deps", false, "List linked module versions")
	rootCmd.AddCommand(versionCmd)
}

// readBuildVersion merges the ldflags stamp with the build info. info may be
// nil when the binary carries no build info.
func readBuildVersion(info *debug.BuildInfo, deps bool) buildVersion {
	v := buildVersion{
		Version:  version,
		Commit:   commit,
		Date:     date,
		Go:       runtime.Version(),
		Platform: runtime.GOOS + "/" + runtime.GOARCH,
	}
	if info == nil {
		if v.Version == "" {
			v.Version = "dev"
		}
		return v
	}

	if v.Version == "" {
		v.Version = mainVersion(info)
	}
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			if v.Commit == "" {
				v.Commit = s.Value
			}
		case "vcs.time":
			if v.Date == "" {
				v.Date = s.Value
			}
		case "vcs.modified":
			v.Modified = s.Value == "true"
		}
	}
	if deps {
		for _, m := range info.Deps {
			mv := moduleVersion{Path: m.Path, Version: m.Version}
			if m.Replace != nil {
				mv.Replace = m.Replace.Path + "@" + m.Replace.Version
			}
			v.Deps = append(v.Deps, mv)
		}
	}
	return v
}

// mainVersion returns the module version heapctl was built at. When heapkit is
// a dependency of another main module, the dependency version is used.
func mainVersion(info *debug.BuildInfo) string {
	if info.Main.Path == modulePath {
		if info.Main.Version != "" && info.Main.Version != "(devel)" {
			return info.Main.Version
		}
		return "dev"
	}
	for _, m := range info.Deps {
		if m.Path == modulePath {
			return m.Version
		}
	}
	return "dev"
}

func printBuildVersion(w io.Writer, v buildVersion) {
	fmt.Fprintf(w, "heapctl %s\n", v.Version)
	if v.Commit != "" {
		c := v.Commit
		if len(c) > 12 {
			c = c[:12]
		}
		if v.Modified {
			c += " (modified)"
		}
		fmt.Fprintf(w, "  commit:   %s\n", c)
	}
	if v.Date != "" {
		fmt.Fprintf(w, "  built:    %s\n", v.Date)
	}
	fmt.Fprintf(w, "  go:       %s %s\n", v.Go, v.Platform)
	if len(v.Deps) == 0 {
		return
	}
	fmt.Fprintln(w, "  modules:")
	for _, m := range v.Deps {
		line := m.Path + "@" + m.Version
		if m.Replace != "" {
			line += " => " + m.Replace
		}
		fmt.Fprintln(w, "    "+strings.TrimSpace(line))
	}
}
