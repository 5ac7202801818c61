package utils

import (
	"bufio"
	"bytes"
	"encoding/base32"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/anacrolix/torrent/metainfo"
)

var hexRegex = regexp.MustCompile("^[0-9a-fA-F]{40}$")

type Magnet struct {
	Name     string `json:"name"`
	InfoHash string `json:"infoHash"`
	Size     int64  `json:"size"`
	Link     string `json:"link"`
	File     []byte `json:"-"`
}

func (m *Magnet) IsTorrent() bool {
	return m.File != nil
}

func GetMagnetFromFile(file io.Reader, filePath string) (*Magnet, error) {
	var (
		m   *Magnet
		err error
	)
	if filepath.Ext(filePath) == ".torrent" {
		torrentData, err := io.ReadAll(file)
		if err != nil {
			return nil, err
		}
		m, err = GetMagnetFromBytes(torrentData)
		if err != nil {
			return nil, err
		}
	} else {
		// .magnet file
		m, err = GetMagnetInfo(readMagnetFile(file))
		if err != nil {
			return nil, err
		}
	}
	m.Name = strings.TrimSuffix(filepath.Base(filePath), filepath.Ext(filePath))
	return m, nil
}

func GetMagnetFromUrl(u string) (*Magnet, error) {
	if strings.HasPrefix(u, "magnet:") {
		return GetMagnetInfo(u)
	} else if strings.HasPrefix(u, "http") {
		return openMagnetHttpURL(u)
	}
	return nil, fmt.Errorf("invalid url")
}

func GetMagnetFromBytes(torrentData []byte) (*Magnet, error) {
	mi, err := metainfo.Load(bytes.NewReader(torrentData))
	if err != nil {
		return nil, err
	}

	hash := mi.HashInfoBytes()
	info, err := mi.UnmarshalInfo()
	if err != nil {
		return nil, err
	}
	magnetMeta := mi.Magnet(&hash, &info)
	return &Magnet{
		InfoHash: hash.HexString(),
		Name:     info.Name,
		Size:     info.Length,
		Link:     magnetMeta.String(),
		File:     torrentData,
	}, nil
}

func readMagnetFile(file io.Reader) string {
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		if content := scanner.Text(); content != "" {
			return content
		}
	}
	return ""
}

func openMagnetHttpURL(magnetLink string) (*Magnet, error) {
	resp, err := http.Get(magnetLink)
	if err != nil {
		return nil, fmt.Errorf("error making GET request: %v", err)
	}
	defer resp.Body.Close()
	torrentData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading response body: %v", err)
	}
	return GetMagnetFromBytes(torrentData)
}

func GetMagnetInfo(magnetLink string) (*Magnet, error) {
	if magnetLink == "" {
		return nil, fmt.Errorf("empty magnet link")
	}

	mi, err := metainfo.ParseMagnetUri(magnetLink)
	if err != nil {
		return nil, fmt.Errorf("error parsing magnet link: %w", err)
	}

	return &Magnet{
		InfoHash: mi.InfoHash.HexString(),
		Name:     mi.DisplayName,
		Size:     0,
		Link:     mi.String(),
	}, nil
}

func ExtractInfoHash(magnetDesc string) string {
	const prefix = "xt=urn:btih:"
	start := strings.Index(magnetDesc, prefix)
	if start == -1 {
		return ""
	}
	hash := ""
	start += len(prefix)
	end := strings.IndexAny(magnetDesc[start:], "&#")
	if end == -1 {
		hash = magnetDesc[start:]
	} else {
		hash = magnetDesc[start : start+end]
	}
	hash, _ = processInfoHash(hash)
	return hash
}

func processInfoHash(input string) (string, error) {
	// Already a valid 40-char hex infohash
	if hexRegex.MatchString(input) {
		return strings.ToLower(input), nil
	}

	// 32 characters may be Base32 encoded
	if len(input) == 32 {
		input = strings.ToUpper(strings.TrimRight(input, "="))
		decoded, err := base32.StdEncoding.DecodeString(input)
		if err == nil && len(decoded) == 20 {
			return hex.EncodeToString(decoded), nil
		}
	}

	return "", fmt.Errorf("invalid infohash: %s", input)
}

func ConstructMagnet(infoHash, name string) *Magnet {
	name = url.QueryEscape(strings.TrimSpace(name))
	return &Magnet{
		InfoHash: infoHash,
		Name:     name,
		Link:     fmt.Sprintf("magnet:?xt=urn:btih:%s&dn=%s", infoHash, name),
	}
}
