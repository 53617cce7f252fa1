// This runs an in-memory s3 server, for trying the caching service with
// its s3 backend without a real object store.

package main

import (
	"flag"
	"log"
	"net/http"

	"github.com/johannesboyne/gofakes3"
	"github.com/johannesboyne/gofakes3/backend/s3mem"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:9000", "Address to listen on.")
	bucket := flag.String("bucket", "caching-service", "Bucket to create at startup.")
	flag.Parse()

	backend := s3mem.New()
	err := backend.CreateBucket(*bucket)
	if err != nil {
		log.Fatal(err)
	}
	faker := gofakes3.New(backend)
	log.Printf("Serving fake S3 bucket %q on %s", *bucket, *addr)
	log.Fatal(http.ListenAndServe(*addr, faker.Server()))
}
