// Package install locates the game's attributes file on disk by scanning
// Steam library folders.
package install

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/andygrunwald/vdf"
	"github.com/rs/zerolog/log"
)

// SteamAppID is Hunt: Showdown's Steam app id.
const SteamAppID = "594650"

// attributesRelPath is where the game keeps attributes.xml inside its
// install directory.
var attributesRelPath = filepath.Join("user", "profiles", "default", "attributes.xml")

// logFileName is the game log that sits at the install root, three parent
// directories above the attributes file.
const logFileName = "game.log"

// ErrNotFound is returned when no Steam library contains the game.
var ErrNotFound = errors.New("game installation not found")

// Locate returns the absolute path of the attributes file. It scans every
// Steam library folder for the game's app id.
func Locate() (string, error) {
	for _, root := range steamRoots() {
		path, err := locateIn(root)
		if err == nil {
			return path, nil
		}
		if !errors.Is(err, ErrNotFound) {
			log.Debug().Err(err).Str("steam_root", root).Msg("steam library scan failed")
		}
	}
	return "", ErrNotFound
}

// LogPath derives the game log path from the attributes path by walking up
// three parent directories to the install root.
func LogPath(attributesPath string) string {
	install := filepath.Dir(attributesPath)
	for i := 0; i < 3; i++ {
		install = filepath.Dir(install)
	}
	return filepath.Join(install, logFileName)
}

// locateIn checks one Steam root's libraryfolders.vdf for the game.
func locateIn(steamRoot string) (string, error) {
	f, err := os.Open(filepath.Join(steamRoot, "steamapps", "libraryfolders.vdf"))
	if err != nil {
		return "", ErrNotFound
	}
	defer f.Close()

	m, err := vdf.NewParser(f).Parse()
	if err != nil {
		return "", fmt.Errorf("failed to parse libraryfolders.vdf: %w", err)
	}

	folders, ok := m["libraryfolders"].(map[string]any)
	if !ok {
		return "", fmt.Errorf("libraryfolders.vdf has no libraryfolders block")
	}

	for _, v := range folders {
		lib, ok := v.(map[string]any)
		if !ok {
			continue
		}
		libraryPath, ok := lib["path"].(string)
		if !ok {
			continue
		}
		apps, ok := lib["apps"].(map[string]any)
		if !ok {
			continue
		}
		if _, installed := apps[SteamAppID]; !installed {
			continue
		}

		path := filepath.Join(libraryPath, "steamapps", "common", "Hunt Showdown", attributesRelPath)
		if _, err := os.Stat(path); err != nil {
			log.Warn().Str("path", path).Msg("library lists the game but attributes file is missing")
			continue
		}
		return path, nil
	}
	return "", ErrNotFound
}

// steamRoots returns candidate Steam install roots for the current platform.
func steamRoots() []string {
	if runtime.GOOS == "windows" {
		return []string{
			filepath.Join(os.Getenv("ProgramFiles(x86)"), "Steam"),
			filepath.Join(os.Getenv("ProgramFiles"), "Steam"),
		}
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	return []string{
		filepath.Join(home, ".steam", "steam"),
		filepath.Join(home, ".local", "share", "Steam"),
	}
}
