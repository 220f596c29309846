package ffmpeg

import (
	"bufio"
	"io"
	"math"
	"regexp"
	"strconv"
	"sync"

	"github.com/sawmill-video/sawmill/events"
)

// How many trailing log lines we keep around for error messages.
const errorTailLines = 10

var (
	durationRegex = regexp.MustCompile(`Duration: (\d+):(\d+):(\d+)`)
	timeRegex     = regexp.MustCompile(`time=(\d+):(\d+):(\d+)`)
	openingRegex  = regexp.MustCompile(`Opening .* for writing`)
)

// LogParser reads ffmpeg's merged stdout/stderr line by line and turns
// it into bus events: a progress event per reported encode position, an
// output event whenever ffmpeg opens a new output file, and a final
// output event with TranscodeCompleted set when the stream closes.
type LogParser struct {
	reader io.Reader
	bus    *events.Bus
	done   chan struct{}

	// durationSec defaults to 1 so a missing Duration line degrades to
	// nonsense percentages instead of a division by zero.
	durationSec float64
	timeSec     float64

	mu   sync.Mutex
	tail []string
}

func NewLogParser(reader io.Reader, bus *events.Bus) *LogParser {
	return &LogParser{
		reader:      reader,
		bus:         bus,
		done:        make(chan struct{}),
		durationSec: 1,
	}
}

func (p *LogParser) Start() {
	go p.run()
}

// Stop blocks until the parser has drained the log stream and emitted
// its terminal event. The stream only closes once the subprocess has
// exited, so callers stop the process first.
func (p *LogParser) Stop() {
	<-p.done
}

// Tail returns the last few log lines, for attaching to error messages
// when ffmpeg exits non-zero.
func (p *LogParser) Tail() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.tail...)
}

func (p *LogParser) run() {
	defer close(p.done)

	scanner := bufio.NewScanner(p.reader)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		p.parseLine(scanner.Text())
	}

	p.bus.Publish(events.Event{Type: events.TypeOutput, TranscodeCompleted: true})
}

func (p *LogParser) parseLine(line string) {
	p.recordTail(line)

	if d, ok := parseTimestamp(durationRegex, line); ok {
		p.durationSec = d
	}
	if t, ok := parseTimestamp(timeRegex, line); ok {
		p.timeSec = t
		p.bus.Publish(events.Event{Type: events.TypeProgress, Percentage: p.percentage()})
	}

	if openingRegex.MatchString(line) {
		p.bus.Publish(events.Event{Type: events.TypeOutput})
	}
}

func (p *LogParser) percentage() int {
	return int(math.Round(p.timeSec / p.durationSec * 100))
}

func (p *LogParser) recordTail(line string) {
	if line == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tail = append(p.tail, line)
	if len(p.tail) > errorTailLines {
		p.tail = p.tail[len(p.tail)-errorTailLines:]
	}
}

func parseTimestamp(re *regexp.Regexp, line string) (float64, bool) {
	m := re.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	h, _ := strconv.Atoi(m[1])
	min, _ := strconv.Atoi(m[2])
	s, _ := strconv.Atoi(m[3])
	return float64(h*3600 + min*60 + s), true
}
