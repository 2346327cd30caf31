package notify

import (
	"sync"
)

// Message is a recorded notification.
type Message struct {
	Title  string
	Detail string
}

// Recorder records notifications in memory and answers Confirm from a
// scripted queue of action labels. It is used by tests and quiet runs.
type Recorder struct {
	mu sync.Mutex

	successes []string
	warnings  []Message
	errors    []Message
	confirms  []Message
	answers   []string
	views     []*RecordedView

	// OnProgress, when set, is called after every SetProgress of any view.
	OnProgress func(v *RecordedView, percent int)
}

// NewRecorder creates a recorder that answers Confirm with answers in order.
// When the queue is empty the cancel action is chosen.
func NewRecorder(answers ...string) *Recorder {
	return &Recorder{answers: answers}
}

// NotifySuccess records a success message.
func (r *Recorder) NotifySuccess(message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.successes = append(r.successes, message)
}

// NotifyWarning records a warning notification.
func (r *Recorder) NotifyWarning(title, detail string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.warnings = append(r.warnings, Message{Title: title, Detail: detail})
}

// NotifyError records an error notification.
func (r *Recorder) NotifyError(title, detail string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, Message{Title: title, Detail: detail})
}

// Confirm records the prompt and invokes the next scripted answer.
func (r *Recorder) Confirm(message, detail string, actions []Action) error {
	if len(actions) == 0 {
		return ErrNoActions
	}

	r.mu.Lock()
	r.confirms = append(r.confirms, Message{Title: message, Detail: detail})
	choice := cancelIndex(actions)
	var err error
	if len(r.answers) > 0 {
		label := r.answers[0]
		r.answers = r.answers[1:]
		choice, err = indexOf(actions, label)
	}
	r.mu.Unlock()

	if err != nil {
		return err
	}
	actions[choice].Invoke()
	return nil
}

// NewView creates a recorded progress view.
func (r *Recorder) NewView(title string) ProgressView {
	r.mu.Lock()
	defer r.mu.Unlock()
	v := &RecordedView{recorder: r, Title: title}
	r.views = append(r.views, v)
	return v
}

// Successes returns the recorded success messages.
func (r *Recorder) Successes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.successes...)
}

// Warnings returns the recorded warning notifications.
func (r *Recorder) Warnings() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.warnings...)
}

// Errors returns the recorded error notifications.
func (r *Recorder) Errors() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.errors...)
}

// Confirms returns the recorded confirm prompts.
func (r *Recorder) Confirms() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.confirms...)
}

// Views returns the views created so far.
func (r *Recorder) Views() []*RecordedView {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*RecordedView(nil), r.views...)
}

// RecordedView records progress updates.
type RecordedView struct {
	recorder *Recorder
	Title    string

	mu       sync.Mutex
	progress []int
	onCancel func()
	closed   bool
}

// SetProgress records percent.
func (v *RecordedView) SetProgress(percent int) {
	v.mu.Lock()
	v.progress = append(v.progress, percent)
	v.mu.Unlock()

	v.recorder.mu.Lock()
	hook := v.recorder.OnProgress
	v.recorder.mu.Unlock()
	if hook != nil {
		hook(v, percent)
	}
}

// OnCancel registers the cancel callback.
func (v *RecordedView) OnCancel(fn func()) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.onCancel = fn
}

// Cancel simulates the user pressing cancel.
func (v *RecordedView) Cancel() {
	v.mu.Lock()
	fn := v.onCancel
	v.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Close marks the view closed.
func (v *RecordedView) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.closed = true
}

// Progress returns the recorded percentages.
func (v *RecordedView) Progress() []int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]int(nil), v.progress...)
}

// Closed reports whether Close was called.
func (v *RecordedView) Closed() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.closed
}
