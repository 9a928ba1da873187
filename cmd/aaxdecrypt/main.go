// Command aaxdecrypt removes the DRM of an AAX or AAXC audiobook and writes a plain M4B file.
package main

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/phsym/console-slog"
	"github.com/schollz/progressbar/v3"

	aax "github.com/iyear/goaax"
)

const (
	exitOK          = 0
	exitFailure     = 1
	exitCredentials = 2
	exitUnsupported = 3
)

type options struct {
	input       string
	output      string
	secret      string
	key         string
	iv          string
	voucher     string
	saveVoucher string
	fileType    string
	fastStart   bool
	configPath  string
	logLevel    string
	probe       bool
	noProgress  bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("aaxdecrypt", flag.ContinueOnError)
	fs.SetOutput(stderr)

	opts := options{}
	fs.StringVar(&opts.input, "i", "", "input `file` (.aax or .aaxc)")
	fs.StringVar(&opts.output, "o", "", "output `file`, defaults to the input with an .m4b extension")
	fs.StringVar(&opts.secret, "a", "", "activation bytes as 8 hex digits (AAX)")
	fs.StringVar(&opts.key, "key", "", "hex file key (AAXC)")
	fs.StringVar(&opts.iv, "iv", "", "hex file IV (AAXC)")
	fs.StringVar(&opts.voucher, "voucher", "", "read key material from a voucher `file`")
	fs.StringVar(&opts.saveVoucher, "save-voucher", "", "write the resolved key material to a voucher `file`")
	fs.StringVar(&opts.fileType, "type", "auto", "file type: auto, aax, aaxc or dash")
	fs.BoolVar(&opts.fastStart, "faststart", true, "move moov ahead of mdat")
	fs.StringVar(&opts.configPath, "config", "", "YAML config `file`")
	fs.StringVar(&opts.logLevel, "log-level", "", "debug, info, warn or error")
	fs.BoolVar(&opts.probe, "probe", false, "print the top-level layout of the input and exit")
	fs.BoolVar(&opts.noProgress, "no-progress", false, "hide the progress bar")
	fs.Usage = func() {
		fmt.Fprintf(stderr, "usage: aaxdecrypt -i <file.aax> [-a <activation bytes> | -key <hex> -iv <hex> | -voucher <file>] [-o <file.m4b>]\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitFailure
	}
	if opts.input == "" {
		fs.Usage()
		return exitFailure
	}

	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitFailure
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "a":
			cfg.ActivationBytes = opts.secret
		case "faststart":
			cfg.FastStart = opts.fastStart
		case "log-level":
			cfg.LogLevel = opts.logLevel
		}
	})

	logger := slog.New(console.NewHandler(stderr, &console.HandlerOptions{
		Level:      parseLevel(cfg.LogLevel),
		TimeFormat: "15:04:05.000",
	}))

	if opts.probe {
		err = probe(opts.input, stdout)
	} else {
		err = decrypt(ctx, logger, cfg, opts, stderr)
	}
	if err != nil {
		if errors.Is(err, aax.ErrCredentialMismatch) {
			logger.Error(aax.ErrCredentialMismatch.Error(), "file", opts.input)
		} else {
			logger.Error("failed", "file", opts.input, "err", err)
		}
	}
	return exitCode(err)
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, aax.ErrCredentialMismatch):
		return exitCredentials
	case errors.Is(err, aax.ErrUnsupportedFormat):
		return exitUnsupported
	default:
		return exitFailure
	}
}

func parseFileType(s string) (aax.FileType, bool, error) {
	switch strings.ToLower(s) {
	case "", "auto":
		return 0, false, nil
	case "aax":
		return aax.FileTypeAAX, true, nil
	case "aaxc":
		return aax.FileTypeAAXC, true, nil
	case "dash":
		return aax.FileTypeDash, true, nil
	default:
		return 0, false, fmt.Errorf("unknown file type: %s", s)
	}
}

func outputPath(input string) string {
	if i := strings.LastIndexByte(input, '.'); i > strings.LastIndexAny(input, `/\`) {
		input = input[:i]
	}
	return input + ".m4b"
}

func decrypt(ctx context.Context, logger *slog.Logger, cfg *config, opts options, stderr io.Writer) (err error) {
	in, err := os.Open(opts.input)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	ft, forced, err := parseFileType(opts.fileType)
	if err != nil {
		return err
	}
	if !forced {
		if ft, err = aax.DetectFileType(in); err != nil {
			return fmt.Errorf("detect file type: %w", err)
		}
	}
	logger.Info("detected file", "file", opts.input, "type", ft)
	if ft == aax.FileTypeDash {
		return fmt.Errorf("%w: %s", aax.ErrUnsupportedFormat, ft)
	}

	keys, source, err := keySource(ft, cfg, opts)
	if err != nil {
		return err
	}
	logger.Debug("resolved key source", "source", source)

	stat, err := in.Stat()
	if err != nil {
		return err
	}

	decOpts := []aax.Option{
		aax.WithFastStart(cfg.FastStart),
		aax.WithTempDir(cfg.TempDir),
	}
	var bar *progressbar.ProgressBar
	if !opts.noProgress {
		bar = progressbar.NewOptions64(stat.Size(),
			progressbar.OptionSetWriter(stderr),
			progressbar.OptionClearOnFinish(),
			progressbar.OptionShowBytes(true),
			progressbar.OptionShowCount(),
			progressbar.OptionSetPredictTime(false),
			progressbar.OptionSetDescription("Decrypting..."),
		)
		decOpts = append(decOpts, aax.WithProgress(func(p aax.Progress) {
			_ = bar.Set64(p.Done)
		}))
	}
	d := aax.NewDecrypter(keys, decOpts...)

	km, err := d.KeyMaterial(in)
	if err != nil {
		return err
	}
	if opts.saveVoucher != "" {
		if err = saveVoucher(opts.saveVoucher, km); err != nil {
			return err
		}
		logger.Info("saved voucher", "file", opts.saveVoucher)
	}

	output := opts.output
	if output == "" {
		output = outputPath(opts.input)
	}
	out, err := os.Create(output)
	if err != nil {
		return err
	}
	defer func() {
		_ = out.Close()
		if err != nil {
			_ = os.Remove(output)
		}
	}()

	start := time.Now()
	if err = d.DecryptFile(ctx, in, out); err != nil {
		return err
	}
	if bar != nil {
		_ = bar.Finish()
	}

	logger.Info("decrypted",
		"output", output,
		"fast_start", cfg.FastStart,
		"elapsed", time.Since(start).Round(time.Millisecond))
	return nil
}

// keySource picks the key material in order of precedence: voucher, explicit key and iv, activation bytes.
func keySource(ft aax.FileType, cfg *config, opts options) (aax.KeySource, string, error) {
	if opts.voucher != "" {
		b, err := os.ReadFile(opts.voucher)
		if err != nil {
			return nil, "", fmt.Errorf("read voucher: %w", err)
		}
		return aax.FromVoucher(bytes.NewReader(b)), "voucher", nil
	}

	if opts.key != "" || opts.iv != "" {
		key, err := hex.DecodeString(opts.key)
		if err != nil {
			return nil, "", fmt.Errorf("decode key: %w", err)
		}
		iv, err := hex.DecodeString(opts.iv)
		if err != nil {
			return nil, "", fmt.Errorf("decode iv: %w", err)
		}
		return aax.FromKeyIV(key, iv), "key/iv", nil
	}

	secret, err := hex.DecodeString(cfg.ActivationBytes)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", aax.ErrInvalidSecret, err)
	}
	return ft.KeySource(aax.KeyData{KeyPart1: secret}), "activation bytes", nil
}

func saveVoucher(path string, km *aax.KeyMaterial) error {
	b, err := km.MarshalBinary()
	if err != nil {
		return fmt.Errorf("marshal voucher: %w", err)
	}
	if err = os.WriteFile(path, b, 0o600); err != nil {
		return fmt.Errorf("write voucher: %w", err)
	}
	return nil
}

func probe(path string, w io.Writer) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	l, err := aax.Probe(f)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "major brand: %q, minor version: %#x, compatible: %q\n", l.MajorBrand, l.MinorVersion, l.CompatibleBrands)
	for _, b := range l.Boxes {
		fmt.Fprintf(w, "%s\toffset=%d\tsize=%d\n", b.Type, b.Offset, b.Size)
	}
	fmt.Fprintf(w, "fast start: %t\n", l.FastStart())
	return nil
}
