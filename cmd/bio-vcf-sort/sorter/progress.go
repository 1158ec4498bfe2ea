package sorter

import (
	"time"

	"github.com/grailbio/base/log"
	"github.com/grailbio/vcfsort/encoding/vcf"
)

// DefaultProgressInterval is the number of records between progress log
// lines.
const DefaultProgressInterval = 25000

// progressLogger logs the number of records processed every interval
// records, with the position of the last one.
type progressLogger struct {
	verb     string
	interval uint64
	n        uint64
	start    time.Time
	last     time.Time
}

func newProgressLogger(verb string, interval int) *progressLogger {
	if interval <= 0 {
		interval = DefaultProgressInterval
	}
	now := time.Now()
	return &progressLogger{verb: verb, interval: uint64(interval), start: now, last: now}
}

// record counts rec, and logs if it is the interval'th one since the last
// log line.
func (p *progressLogger) record(rec *vcf.Record) {
	p.n++
	if p.n%p.interval != 0 {
		return
	}
	now := time.Now()
	log.Printf("%s %d records. Elapsed %v, last %v. Last read position: %s:%d",
		p.verb, p.n, now.Sub(p.start).Round(time.Second), now.Sub(p.last).Round(time.Millisecond), rec.Chrom, rec.Pos)
	p.last = now
}

func (p *progressLogger) done() {
	log.Printf("%s %d records in %v", p.verb, p.n, time.Since(p.start).Round(time.Millisecond))
}
