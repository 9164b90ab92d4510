// Package downloader defines the contract every download client adapter
// satisfies and the helpers the adapters share.
//
// Adapters live in subpackages (qbittorrent, transmission, deluge, sabnzbd)
// and keep their authentication, session and status vocabulary internal. The
// shared policy applied by all of them:
//
//   - GetDownload retries "not found" after 500ms, 1s and 2s before returning
//     nil, because a just-added download is not always visible yet.
//   - An operation failing with services.ErrAuthentication re-authenticates
//     once and retries once.
//   - Save paths are mapped local → remote on the way in; status snapshots
//     carry raw remote paths and callers map them back with PathMapping.ToLocal.
//
// Registry resolves configured client ids to adapter instances and evicts an
// instance when its configuration fingerprint changes.
package downloader
