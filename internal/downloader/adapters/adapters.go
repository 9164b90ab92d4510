// Package adapters binds the configured client type strings to adapter
// constructors.
package adapters

import (
	"shelfarr/internal/config"
	"shelfarr/internal/downloader"
	"shelfarr/internal/downloader/deluge"
	"shelfarr/internal/downloader/qbittorrent"
	"shelfarr/internal/downloader/sabnzbd"
	"shelfarr/internal/downloader/transmission"
)

// Factories returns the factory for every supported client type.
func Factories() map[string]downloader.Factory {
	return map[string]downloader.Factory{
		config.ClientTypeQBittorrent:  factory(qbittorrent.New),
		config.ClientTypeTransmission: factory(transmission.New),
		config.ClientTypeDeluge:       factory(deluge.New),
		config.ClientTypeSABnzbd:      factory(sabnzbd.New),
	}
}

// factory adapts a concrete constructor so a failed construction yields a
// nil interface rather than a typed nil.
func factory[T downloader.Client](build func(config.DownloadClient, ...downloader.Option) (T, error)) downloader.Factory {
	return func(cfg config.DownloadClient, opts ...downloader.Option) (downloader.Client, error) {
		client, err := build(cfg, opts...)
		if err != nil {
			return nil, err
		}
		return client, nil
	}
}
