// Package publish hands a finished scratch tree off to its durable location.
//
// Three targets exist:
//   - local: the tree is moved into datasets_dir/<repo id>
//   - s3: the tree is uploaded with the AWS SDK
//   - minio: the same key layout, uploaded through minio-go
//
// Remote targets never write into the live keys of a dataset. Each publish
// uploads to <prefix>/<repo id>/.runs/<version>/ with meta/info.json last,
// then overwrites <prefix>/<repo id>/CURRENT with ".runs/<version>". A single
// object write is the commit point: readers resolve CURRENT and see either
// the previous version or the new one. A failed publish deletes its version
// directory; a successful one prunes every other object under the repo
// prefix and drops any stale local copy of the repo id.
package publish
