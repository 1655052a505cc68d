package pipeline

import (
	"context"
	"time"

	"github.com/tinyclue/duocapture/internal/corefabric"
	"github.com/tinyclue/duocapture/internal/logging"
)

// captureLoop is the synthetic capture-stage scheduler for one channel: it
// fills a buffer from the pool at a fixed frame cadence, stages the raw
// bytes through the channel's ring (grounded on the teacher's analysis-ring
// staging pattern), and enqueues a Buffer onto the capture-stage queue. The
// enqueue never waits (a full queue drops its oldest entry), but the pool
// allocation may wait up to the pool's allocation timeout, which can be
// longer than one frame, before the frame is dropped.
func (p *Pipeline) captureLoop(ctx context.Context, channel string) {
	defer p.wg.Done()

	ch := channelOf(channel)
	ring := p.rings[channel]
	ticker := time.NewTicker(FrameDuration)
	defer ticker.Stop()

	frame := make([]byte, corefabric.SmallBufferSize)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n := p.source.NextFrame(channel, frame)
			if n == 0 {
				continue
			}
			if _, err := ring.Write(frame[:n]); err != nil {
				p.monitor.ReportError(corefabric.ErrorReport{
					Component: "pipeline-capture", Severity: corefabric.SeverityWarning, Kind: "ring_write_failed",
				})
				continue
			}

			buf, err := p.coordinator.RequestResource(corefabric.ComponentHandle{Name: componentName}, n)
			if err != nil {
				// pool exhausted or allocation timed out: drop this frame
				// rather than retry.
				continue
			}
			got, _ := ring.Read(buf.Data[:n])
			buf.SetLen(got)

			queue := p.bufferMgr.Queue(corefabric.StageCapture, ch)
			if err := queue.Put(buf, 0); err != nil {
				_ = buf.Release()
			}
		}
	}
}

// processingWorker drains the capture queue for both channels, "processes"
// the frame (a no-op pass-through stands in for the out-of-scope DSP/VAD
// stage), and forwards it to the processing queue.
func (p *Pipeline) processingWorker(ctx context.Context) {
	defer p.wg.Done()

	tid, err := p.coordinator.RegisterThread(corefabric.ComponentHandle{Name: componentName})
	if err != nil {
		return
	}
	defer p.coordinator.UnregisterThread(corefabric.ComponentHandle{Name: componentName}, tid)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		progressed := false
		for _, ch := range []corefabric.Channel{corefabric.ChannelLeft, corefabric.ChannelRight} {
			in := p.bufferMgr.Queue(corefabric.StageCapture, ch)
			buf, err := in.Get(50 * time.Millisecond)
			if err != nil {
				continue
			}
			progressed = true
			p.coordinator.ThreadTick(corefabric.ComponentHandle{Name: componentName}, tid)

			out := p.bufferMgr.Queue(corefabric.StageProcessing, ch)
			if err := out.Put(buf, 0); err != nil {
				_ = buf.Release()
			}
		}
		if !progressed {
			time.Sleep(time.Millisecond)
		}
	}
}

// storageWriter drains the processing queue for one channel, hands each
// buffer through the storage-stage queue (C3's third queue, the hand-off
// point between the processing and storage stages per §2's data flow),
// and drains that queue into the storage manager's channel writer, which
// owns flushing, checksums, and emergency backup (C7). The idle-flush
// trigger in §4.7 watches the storage queue itself, not the processing
// queue, so a burst already absorbed into the storage stage but not yet
// followed by new processing output still counts as idle.
func (p *Pipeline) storageWriter(ctx context.Context, channel string) {
	defer p.wg.Done()

	ch := channelOf(channel)
	writer := p.storageMgr.Writer(channel)
	procQueue := p.bufferMgr.Queue(corefabric.StageProcessing, ch)
	storageQueue := p.bufferMgr.Queue(corefabric.StageStorage, ch)

	idleTicker := time.NewTicker(time.Duration(p.settings.Flush.IdleMS) * time.Millisecond)
	defer idleTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = writer.Flush()
			return
		case <-idleTicker.C:
			if storageQueue.Size() == 0 {
				if err := writer.IdleFlush(); err != nil {
					logging.Error("storage: idle flush failed", "channel", channel, "error", err)
				}
			}
			continue
		default:
		}

		buf, err := procQueue.Get(50 * time.Millisecond)
		if err != nil {
			continue
		}
		if err := storageQueue.Put(buf, 0); err != nil {
			_ = buf.Release()
			continue
		}

		sbuf, err := storageQueue.Get(0)
		if err != nil {
			continue
		}
		if err := writer.Append(sbuf); err != nil {
			logging.Error("storage: append/flush failed", "channel", channel, "error", err)
		}
	}
}

// drainQueues empties the capture -> processing -> storage queues in that
// fixed order (§5) after every producer/consumer goroutine has already
// stopped (the caller runs this once wg.Wait has returned, so there is no
// concurrent Put/Get racing these calls). Every buffer still resident in a
// queue at shutdown is handed forward rather than left outstanding against
// the pool, so release_resources's leak invariant holds even under the
// 10 ms capture cadence.
func (p *Pipeline) drainQueues() {
	for _, ch := range []corefabric.Channel{corefabric.ChannelLeft, corefabric.ChannelRight} {
		channel := ch.String()
		capQueue := p.bufferMgr.Queue(corefabric.StageCapture, ch)
		procQueue := p.bufferMgr.Queue(corefabric.StageProcessing, ch)
		storageQueue := p.bufferMgr.Queue(corefabric.StageStorage, ch)
		writer := p.storageMgr.Writer(channel)

		for {
			buf, err := capQueue.Get(0)
			if err != nil {
				break
			}
			if err := procQueue.Put(buf, 0); err != nil {
				_ = buf.Release()
			}
		}
		for {
			buf, err := procQueue.Get(0)
			if err != nil {
				break
			}
			if err := storageQueue.Put(buf, 0); err != nil {
				_ = buf.Release()
			}
		}
		for {
			buf, err := storageQueue.Get(0)
			if err != nil {
				break
			}
			if err := writer.Append(buf); err != nil {
				logging.Error("pipeline: drain append failed", "channel", channel, "error", err)
			}
		}
	}
	if err := p.storageMgr.FlushAll(); err != nil {
		logging.Error("pipeline: drain flush failed", "error", err)
	}
}

func channelOf(name string) corefabric.Channel {
	if name == "right" {
		return corefabric.ChannelRight
	}
	return corefabric.ChannelLeft
}
