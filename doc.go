/*
Package fsmvid implements a bulk media download service: users submit a
batch of social platform URLs and receive a single zip archive with a
time-limited download link.

The system is split into an API server and a worker:
  - The API accepts bulk job submissions, charges credits up front, answers
    status polls, resolves single URLs and streams media through a
    CDN-aware proxy.
  - The worker claims queued jobs, resolves each URL into concrete media
    options, downloads the chosen rendition with concurrent range requests,
    stages the files in object storage and finalizes the job with a zip
    archive.

Layout

	├── cmd/
	│   ├── api/               # HTTP API entry point
	│   └── worker/            # Job worker entry point (poll, queue or lambda)
	├── internal/
	│   ├── api/               # Gin HTTP surface
	│   ├── archive/           # Zip assembly and entry naming
	│   ├── config/            # Environment configuration
	│   ├── fetch/             # Chunked parallel downloader
	│   ├── job/               # Job entity and state machine
	│   ├── media/             # Media options and quality selection
	│   ├── observability/     # Logging and metrics ports
	│   ├── orchestrator/      # Job pipeline and worker runtimes
	│   ├── proxy/             # Streaming relay with host allow-list
	│   ├── queue/             # SQS, RabbitMQ and in-memory queues
	│   ├── resolver/          # Platform URL resolution with TTL cache
	│   ├── storage/           # Object storage port, S3 and filesystem adapters
	│   └── store/             # Postgres job store and credit ledger
	└── migrations/            # Database schema

Jobs move queued -> processing -> completed or failed. Progress is
checkpointed to the database after every attempted URL, so a worker that
dies mid-job is resumed from its last checkpoint by another worker via the
stall reclaimer. Per-URL failures never fail a whole job; credits for
undelivered files are refunded on settlement.
*/
package fsmvid
