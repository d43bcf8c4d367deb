// Package sampler extracts frames from stored incident videos at a fixed
// temporal rate using ffmpeg. Frames are produced lazily from the decoder
// pipe; the video is never buffered in memory as a whole.
package sampler

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	"io"
	"log"
	"os"
	"os/exec"

	"roadwatch/internal/pipeline"
)

// Sampler produces frame streams from video files
type Sampler struct {
	fps float64
}

// New creates a sampler extracting fps frames per second of video
func New(fps float64) *Sampler {
	if fps <= 0 {
		fps = 1
	}
	return &Sampler{fps: fps}
}

// Sample opens the video at videoPath and returns a lazy frame stream.
// The source is probed first; a missing or undecodable file fails with
// ErrUnreadableMedia before any frame work starts.
func (s *Sampler) Sample(ctx context.Context, videoPath string) (pipeline.FrameStream, error) {
	if _, err := os.Stat(videoPath); err != nil {
		return nil, fmt.Errorf("%w: %s", pipeline.ErrUnreadableMedia, videoPath)
	}

	info, err := Probe(ctx, videoPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", pipeline.ErrUnreadableMedia, err)
	}

	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-i", videoPath,
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-r", fmt.Sprintf("%g", s.fps),
		"-q:v", "5",
		"-",
	)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: failed to start ffmpeg: %v", pipeline.ErrUnreadableMedia, err)
	}

	// Consume stderr so ffmpeg never blocks on a full pipe
	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
		}
	}()

	log.Printf("[Sampler] Sampling %s at %g fps (%.1fs, %dx%d)",
		videoPath, s.fps, info.Duration, info.Width, info.Height)

	return newStream(stdout, s.fps, func() error {
		return cmd.Wait()
	}), nil
}

// Stream reads complete JPEG frames from the decoder pipe
type Stream struct {
	source    io.ReadCloser
	finish    func() error
	fps       float64
	buf       []byte
	chunk     []byte
	extracted int // frames pulled off the pipe, including undecodable ones
	eof       bool
	closed    bool
}

func newStream(source io.ReadCloser, fps float64, finish func() error) *Stream {
	return &Stream{
		source: source,
		finish: finish,
		fps:    fps,
		buf:    make([]byte, 0, 1024*1024),
		chunk:  make([]byte, 8192),
	}
}

// Next returns the next sampled frame. io.EOF marks normal exhaustion,
// ErrEmptyMedia a source that produced no frames at all, and ErrFrameDecode
// a single extracted frame that is not a decodable image (the caller may
// keep iterating).
func (st *Stream) Next() (*pipeline.Frame, error) {
	for {
		if data := extractJPEGFrame(&st.buf); data != nil {
			index := st.extracted
			st.extracted++

			cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
			if err != nil {
				return nil, fmt.Errorf("%w: frame %d: %v", pipeline.ErrFrameDecode, index, err)
			}

			return &pipeline.Frame{
				Data:      data,
				Timestamp: float64(index) / st.fps,
				Index:     index,
				Width:     cfg.Width,
				Height:    cfg.Height,
			}, nil
		}

		if st.eof {
			// Empty means the pipe carried no frames at all; a stream
			// whose frames all failed decoding ends with plain EOF and
			// the caller's skip accounting classifies it
			if st.extracted == 0 {
				return nil, pipeline.ErrEmptyMedia
			}
			return nil, io.EOF
		}

		n, err := st.source.Read(st.chunk)
		if n > 0 {
			st.buf = append(st.buf, st.chunk[:n]...)
		}
		if err != nil {
			st.eof = true
			if err != io.EOF {
				log.Printf("[Sampler] Read error from decoder: %v", err)
			}
		}
	}
}

// Close releases the decoder pipe and reaps the ffmpeg process
func (st *Stream) Close() error {
	if st.closed {
		return nil
	}
	st.closed = true
	st.source.Close()
	if st.finish != nil {
		// Exit status is uninteresting once frames were consumed
		st.finish()
	}
	return nil
}

// extractJPEGFrame extracts one complete JPEG frame (SOI..EOI) from the
// buffer, advancing it past the consumed bytes
func extractJPEGFrame(buffer *[]byte) []byte {
	if len(*buffer) < 4 {
		return nil
	}

	// Find JPEG start marker (FFD8)
	startIdx := -1
	for i := 0; i < len(*buffer)-1; i++ {
		if (*buffer)[i] == 0xFF && (*buffer)[i+1] == 0xD8 {
			startIdx = i
			break
		}
	}
	if startIdx == -1 {
		return nil
	}

	// Find JPEG end marker (FFD9)
	endIdx := -1
	for i := startIdx + 2; i < len(*buffer)-1; i++ {
		if (*buffer)[i] == 0xFF && (*buffer)[i+1] == 0xD9 {
			endIdx = i + 2
			break
		}
	}
	if endIdx == -1 {
		return nil
	}

	frame := make([]byte, endIdx-startIdx)
	copy(frame, (*buffer)[startIdx:endIdx])
	*buffer = (*buffer)[endIdx:]

	return frame
}

// Ensure Sampler implements FrameSource
var _ pipeline.FrameSource = (*Sampler)(nil)
var _ pipeline.FrameStream = (*Stream)(nil)
