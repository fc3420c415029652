package agents

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	pkg "github.com/bt-bridge/interview-room"
	"github.com/bt-bridge/interview-room/metrics"
	"github.com/bt-bridge/interview-room/services"
	"github.com/bt-bridge/interview-room/shared"
	"github.com/bt-bridge/interview-room/tools"
	"github.com/goccy/go-yaml"
	"go.uber.org/zap"
)

// CodePlaceholder is the template a code question starts with.
const CodePlaceholder = "# Write your code here"

type InterviewOptions struct {
	Config *shared.Config
	Room   string
	Tokens pkg.TokenSource
	// Judge0Key enables the run command when set.
	Judge0Key string
	Printer   *shared.Printer
	Input     io.Reader
	Metrics   *metrics.Collector
	// Device overrides the system microphone.
	Device tools.Device
}

// InterviewAgent is the terminal view of one interview room.
type InterviewAgent struct {
	logger    shared.LoggerAdapter
	printer   *shared.Printer
	arena     *pkg.Arena
	client    *pkg.Client
	interview *pkg.Interview
	store     *pkg.SessionState
	captions  *tools.Synchronizer
	board     *tools.FileWhiteboard
	runner    *services.Judge0Runner

	closeOnce sync.Once
}

func (a *InterviewAgent) Spawn(ctx context.Context, logger shared.LoggerAdapter, opts InterviewOptions) error {
	if logger == nil {
		return shared.ErrNoLogger
	}
	if opts.Config == nil {
		return shared.ErrNoConfig
	}
	if opts.Tokens == nil {
		return shared.ErrNoTokenSource
	}
	if opts.Printer == nil {
		return errors.New("no printer provided")
	}
	if opts.Input == nil {
		return errors.New("no input provided")
	}
	cfg := opts.Config
	a.logger = logger.With(zap.String("room", opts.Room))
	a.printer = opts.Printer
	a.print("🤖 Joining interview room "+opts.Room+"...\n", 0)

	a.print("📋 Interview Config\n", 0)
	yamlBytes, err := yaml.MarshalWithOptions(cfg, yaml.UseJSONMarshaler())
	if err != nil {
		a.logger.Error("marshaling config to yaml", err)
		return err
	}
	if err := a.printer.Write(string(yamlBytes), 1); err != nil {
		a.logger.Error("printing config", err)
	}

	a.arena, err = pkg.NewArena(ctx, a.logger, cfg.BackendURL, opts.Tokens, cfg.Connection, cfg.Audio.Format, opts.Metrics)
	if err != nil {
		a.logger.Error("creating arena", err)
		return err
	}
	a.client, err = a.arena.Get(opts.Room)
	if err != nil {
		a.logger.Error("creating room client", err)
		return err
	}
	a.client.OnConnect(func() { a.print("\n✅ Connected to the interview room.", 0) })
	a.client.OnDisconnect(func(code int) { a.print(fmt.Sprintf("🔌 Disconnected (code %d).", code), 0) })
	a.client.OnResponse(a.showResponse)

	a.store = pkg.NewSessionState(CodePlaceholder)
	a.board = tools.NewFileWhiteboard("")
	uploader, err := services.NewImageUploader(a.logger, cfg.Services.UploadURL, opts.Tokens)
	if err != nil {
		a.logger.Error("creating image uploader", err)
		return err
	}
	agg, err := pkg.NewAggregator(a.logger, a.client, a.board, uploader, a.notify)
	if err != nil {
		a.logger.Error("creating aggregator", err)
		return err
	}

	synth, err := tools.NewPacedSynthesizer(a.printer, cfg.Speech.WordsPerMinute, 1)
	if err != nil {
		a.logger.Error("creating synthesizer", err)
		return err
	}
	a.captions, err = tools.NewSynchronizer(a.logger, synth)
	if err != nil {
		a.logger.Error("creating caption synchronizer", err)
		return err
	}
	a.captions.OnEvent(func(ev tools.CaptionEvent) {
		if ev.Kind == tools.CaptionError {
			a.notify("Speech failed: " + ev.Err.Error())
		}
	})

	a.interview, err = pkg.NewInterview(a.logger, a.client, a.store, agg, a.captions, a.notify)
	if err != nil {
		a.logger.Error("creating interview", err)
		return err
	}

	device := opts.Device
	if device == nil {
		if device, err = tools.NewMediaDevice(a.logger, cfg.Audio.SampleRate, cfg.Audio.Channels); err != nil {
			a.logger.Error("creating media device", err)
			return err
		}
	}
	mic, err := tools.NewMicrophone(a.logger, device, cfg.Audio.ChunkInterval, a.sendAudio, func(err error) {
		a.notify(shared.UserMessage(err))
	})
	if err != nil {
		a.logger.Error("creating microphone", err)
		return err
	}
	mic.OnRecordingChange(func(recording bool) {
		if recording {
			a.print("🎤 Recording... (rec to stop)", 0)
		} else {
			a.print("⏹️  Recording stopped.", 0)
		}
	})
	a.interview.AttachMicrophone(mic)

	if opts.Judge0Key != "" {
		a.runner, err = services.NewJudge0Runner(a.logger, cfg.Services.Judge0URL, opts.Judge0Key, cfg.Services.PollInterval)
		if err != nil {
			a.logger.Error("creating judge0 runner", err)
			return err
		}
	}

	if err := a.interview.Start(ctx); err != nil {
		if errors.Is(err, shared.ErrAuthentication) {
			a.notify(shared.UserMessage(err))
			a.Close()
			return err
		}
		a.logger.Warn("starting interview", zap.Error(err))
	}
	a.print("Type 'help' for commands.\n", 0)
	go a.readCommands(ctx, opts.Input)
	return nil
}

func (a *InterviewAgent) Done() <-chan struct{} {
	return a.interview.Done()
}

func (a *InterviewAgent) Close() error {
	a.closeOnce.Do(func() {
		if a.interview != nil {
			a.interview.Close()
		}
		if a.arena != nil {
			a.arena.Close()
		}
	})
	return nil
}

func (a *InterviewAgent) print(s string, ind int) {
	if err := a.printer.Writeln(s, ind); err != nil {
		a.logger.Error("printing", err)
	}
}

func (a *InterviewAgent) notify(msg string) {
	if msg != "" {
		a.print("⚠️  "+msg, 0)
	}
}

func (a *InterviewAgent) sendAudio(chunk tools.AudioChunk) {
	if err := a.client.SendAudioData(chunk); err != nil {
		a.logger.Warn("queueing audio chunk", zap.Error(err))
	}
}

func (a *InterviewAgent) showResponse(resp *pkg.Response) {
	if resp.Raw != nil {
		if out, err := resp.Raw.MarshalYAML(); err == nil {
			a.logger.Debug("interviewer message", zap.ByteString("yaml", out))
		}
	}
	switch {
	case resp.IsInterviewCompleted:
		a.print("\n🏁 Interview completed. "+resp.Message, 0)
	case resp.Question != nil:
		q := resp.Question
		a.print(fmt.Sprintf("\n❓ %s (%s, %s)", q.Name, q.Type, q.SolutionType), 0)
		for i, tc := range q.TestCases {
			a.print(fmt.Sprintf("test %d: %s", i+1, tc), 1)
		}
		if q.IsLastQuestion {
			a.print("This is the last question.", 1)
		}
	case resp.Command == pkg.CommandGetPartialSolution:
		a.print("📝 The interviewer asks for your current progress (partial).", 0)
	case resp.Command == pkg.CommandSolutionSaved:
		a.print("💾 Solution saved.", 0)
	}
}

func (a *InterviewAgent) readCommands(ctx context.Context, in io.Reader) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		cmd, arg := parseCommand(scanner.Text())
		if cmd == "" {
			continue
		}
		quit, err := a.handle(ctx, cmd, arg)
		if err != nil {
			a.logger.Warn("command failed", zap.String("command", cmd), zap.Error(err))
			a.notify(err.Error())
		}
		if quit {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		a.logger.Error("reading commands", err)
	}
	a.Close()
}

// parseCommand splits a line into a lower-case verb and the rest.
func parseCommand(line string) (cmd, arg string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return "", ""
	}
	cmd, arg, _ = strings.Cut(line, " ")
	return strings.ToLower(cmd), strings.TrimSpace(arg)
}

func (a *InterviewAgent) handle(ctx context.Context, cmd, arg string) (quit bool, err error) {
	switch cmd {
	case "help":
		a.print(helpText, 1)
	case "next":
		return false, a.client.RequestNextQuestion(ctx)
	case "rec":
		_, err = a.interview.ToggleRecording(ctx)
		return false, err
	case "text":
		a.store.SetText(arg)
	case "say":
		a.store.SetAudio(arg)
	case "code":
		data, err := os.ReadFile(arg)
		if err != nil {
			return false, fmt.Errorf("reading code file: %w", err)
		}
		a.store.SetCode(string(data))
	case "board":
		if _, err := os.Stat(arg); err != nil {
			return false, fmt.Errorf("whiteboard file: %w", err)
		}
		a.board.SetPath(arg)
		a.store.SetImage(arg)
	case "show":
		return false, a.show()
	case "submit":
		return false, a.interview.Submit(ctx, pkg.CommandCompleteSolution)
	case "partial":
		return false, a.interview.Submit(ctx, pkg.CommandPartialSolution)
	case "run":
		return false, a.run(ctx, arg)
	case "status":
		a.print(fmt.Sprintf("state: %s, heartbeat rtt: %s", a.client.State(), a.client.Latency()), 1)
	case "connect":
		return false, a.client.Connect(ctx)
	case "quit", "exit":
		return true, nil
	default:
		return false, fmt.Errorf("unknown command %q", cmd)
	}
	return false, nil
}

const helpText = `next             ask for the next question
rec              start or stop recording
text <answer>    set the written answer
say <answer>     set the spoken answer transcript
code <file>      load the code answer from a file
board <file>     use an image file as the whiteboard
show             print the question and the current answer
submit|partial   send the answer
run <language>   run the code answer on Judge0
status           connection state
connect          reconnect after a failure
quit             leave the room`

func (a *InterviewAgent) show() error {
	q, ok := a.store.Question()
	if !ok {
		a.print("No question yet.", 1)
		return nil
	}
	out, err := yaml.Marshal(map[string]any{
		"question": map[string]any{
			"name":          q.Name,
			"text":          q.Text,
			"test_cases":    q.TestCases,
			"solution_type": string(q.SolutionType),
		},
		"answer": a.store.Snapshot(),
	})
	if err != nil {
		return fmt.Errorf("marshaling answer: %w", err)
	}
	return a.printer.Write(string(out), 1)
}

func (a *InterviewAgent) run(ctx context.Context, arg string) error {
	if a.runner == nil {
		return errors.New("code execution is not configured")
	}
	lang, err := services.ParseLanguage(arg)
	if err != nil {
		return err
	}
	q, _ := a.store.Question()
	code := pkg.StripPlaceholder(a.store.Snapshot().Code, q.Placeholder)
	if code == "" {
		return errors.New("no code to run")
	}
	a.print("⏳ Running...", 1)
	res, err := a.runner.Run(ctx, code, lang)
	if err != nil {
		return err
	}
	a.print("status: "+res.Status.Description, 1)
	for _, out := range []string{res.CompileOutput, res.Stdout, res.Stderr, res.Message} {
		if out != "" {
			a.print(out, 2)
		}
	}
	return nil
}
