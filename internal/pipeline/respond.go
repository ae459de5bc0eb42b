package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/MrWong99/intakecall/internal/interview"
	"github.com/MrWong99/intakecall/internal/observe"
	"github.com/MrWong99/intakecall/internal/turn"
	"github.com/MrWong99/intakecall/pkg/audio"
	"github.com/MrWong99/intakecall/pkg/provider/llm"
	"github.com/MrWong99/intakecall/pkg/types"
)

// handleUtterance runs one decision. It reports done once the closing remark
// has been sent. A panic aborts the turn and leaves the call running.
func (o *Orchestrator) handleUtterance(ctx context.Context, u turn.Utterance) (done bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			o.log.Error("decision panicked", "panic", r, "stack", string(debug.Stack()))
			done, err = false, nil
		}
	}()

	ctx, span := observe.StartTurn(ctx, o.id, u.Forced)
	defer func() {
		observe.FailSpan(span, err)
		span.End()
	}()

	log := o.log
	log.Debug("utterance", "text", u.Text, "fragments", u.Fragments, "forced", u.Forced)
	if m := o.deps.Metrics; m != nil {
		m.RecordUtterance(ctx, u.Forced)
	}

	o.sess.AddMessage(types.RoleUser, u.Text, o.now())
	if err := o.deps.Transport.SendTranscript(ctx, audio.SpeakerUser, u.Text); err != nil {
		log.Debug("send user transcript", "err", err)
	}

	act, err := o.deps.Engine.Decide(o.sess, u.Text)
	if err != nil {
		if errors.Is(err, interview.ErrComplete) {
			return true, nil
		}
		return false, fmt.Errorf("pipeline: decide: %w", err)
	}
	log.Debug("decision", "kind", act.Kind, "section", act.Section, "transitions", act.Transitions, "skipped", act.Skipped)
	span.SetAttributes(observe.AttrSection.String(act.Section), observe.AttrAction.String(string(act.Kind)))

	if act.Kind == interview.ActionReprompt && act.Question != nil {
		if m := o.deps.Metrics; m != nil {
			m.RecordValidationFailure(ctx, act.Question.ID)
		}
	}

	text := act.Say
	if o.shouldPhrase(act) {
		text = o.phrase(ctx, text)
	}
	text = StripMarkdown(text)

	o.sess.AddMessage(types.RoleAssistant, text, o.now())
	o.save(ctx)

	if err := o.speak(ctx, text, u.EmittedAt); err != nil {
		return false, err
	}
	return act.Kind == interview.ActionComplete, nil
}

// shouldPhrase reports whether act may be rephrased by the LLM. Read-backs
// and the closing remark are always spoken verbatim.
func (o *Orchestrator) shouldPhrase(act interview.Action) bool {
	if !o.cfg.UseLLMPhrasing || o.deps.LLM == nil {
		return false
	}
	return act.Kind == interview.ActionAsk || act.Kind == interview.ActionReprompt
}

// phrase asks the LLM to rephrase scripted. Any failure returns scripted.
func (o *Orchestrator) phrase(ctx context.Context, scripted string) string {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.PhrasingTimeout)
	defer cancel()

	msgs := o.sess.RecentHistory(o.cfg.HistoryLimit)
	msgs = append(msgs, types.Message{
		Role:      types.RoleUser,
		Content:   phrasingInstruction + scripted,
		Timestamp: o.now(),
	})
	resp, err := o.deps.LLM.Complete(ctx, llm.CompletionRequest{
		Messages:     msgs,
		SystemPrompt: o.cfg.SystemPrompt,
	})
	if err != nil {
		o.log.Warn("llm phrasing failed, using scripted text", "err", err)
		return scripted
	}
	if strings.TrimSpace(resp.Content) == "" {
		o.log.Warn("llm phrasing returned no text, using scripted text")
		return scripted
	}
	return resp.Content
}

// speak shows text on the client, synthesizes it and sends the audio. If
// synthesis fails it is retried once with the apology spoken in front of
// text; the decision behind text is already committed, so the caller must
// still hear the prompt. If the retry fails too the caller only gets the
// transcript. Sending stops early when a barge-in bumps the playback
// generation.
func (o *Orchestrator) speak(ctx context.Context, text string, turnStart time.Time) error {
	tr := o.deps.Transport
	if err := tr.SendTranscript(ctx, audio.SpeakerAssistant, text); err != nil {
		o.log.Debug("send assistant transcript", "err", err)
	}

	pcm, err := o.deps.TTS.Synthesize(ctx, text, o.cfg.Voice)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		o.log.Error("tts failed, retrying with apology", "err", err)
		pcm, err = o.deps.TTS.Synthesize(ctx, joinText(o.cfg.Apology, text), o.cfg.Voice)
		if err != nil {
			o.log.Error("tts retry failed, transcript only", "err", err)
			return nil
		}
	}
	if len(pcm) == 0 {
		return nil
	}

	gen := o.bargeIn.Generation()
	o.bargeIn.StartPlayback(len(pcm))
	o.mu.Lock()
	o.playbackEnd = o.now().Add(audio.PlaybackDuration(len(pcm)))
	o.mu.Unlock()

	for off := 0; off < len(pcm); off += o.chunkSize {
		if o.bargeIn.Generation() != gen {
			o.log.Debug("playback interrupted", "sent", off, "total", len(pcm))
			o.mu.Lock()
			o.playbackEnd = time.Time{}
			o.mu.Unlock()
			return nil
		}
		end := min(off+o.chunkSize, len(pcm))
		if err := tr.SendAudio(ctx, pcm[off:end]); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("pipeline: send audio: %w", err)
		}
		if off == 0 && !turnStart.IsZero() {
			if m := o.deps.Metrics; m != nil {
				m.RecordTurnLatency(ctx, o.now().Sub(turnStart))
			}
		}
	}
	return nil
}
