//go:build integration

package steps

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"time"

	"audio-extract-service/application/egress"
	"audio-extract-service/application/ingress"
	"audio-extract-service/application/transcode"
	"audio-extract-service/domain/media"
	"audio-extract-service/infrastructure/filesystem"
	"audio-extract-service/infrastructure/httpapi"
	"audio-extract-service/infrastructure/memory"

	"github.com/cucumber/godog"
)

// scriptedTranscoder stands in for ffmpeg and writes a fixed MP3 payload
type scriptedTranscoder struct {
	fail string
}

func (s *scriptedTranscoder) Transcode(_ context.Context, req media.TranscodeRequest, observer media.TranscodeObserver) error {
	observer.Started("ffmpeg -i " + req.InputPath + " " + req.OutputPath)
	if s.fail != "" {
		os.WriteFile(req.OutputPath, []byte("partial"), 0o644)
		return media.NewError(media.KindConversionFailed, "transcode", s.fail, nil)
	}
	return os.WriteFile(req.OutputPath, []byte("ID3-mp3-bytes"), 0o644)
}

type lifecycleContext struct {
	tempDir    string
	stagingDir string
	outputDir  string
	transcoder *scriptedTranscoder
	maxBytes   int64
	server     *httptest.Server
	egress     *egress.Service

	status      int
	body        map[string]any
	rawBody     []byte
	fileID      string
	downloadURL string
}

var SharedLifecycleContext = &lifecycleContext{}

func InitializeLifecycleScenario(ctx *godog.ScenarioContext) {
	testCtx := SharedLifecycleContext

	ctx.Before(func(c context.Context, sc *godog.Scenario) (context.Context, error) {
		tempDir, err := os.MkdirTemp("", "lifecycle-test-*")
		if err != nil {
			return c, err
		}
		*testCtx = lifecycleContext{
			tempDir:    tempDir,
			stagingDir: filepath.Join(tempDir, "uploads"),
			outputDir:  filepath.Join(tempDir, "outputs"),
			transcoder: &scriptedTranscoder{},
		}
		return c, nil
	})

	ctx.After(func(c context.Context, sc *godog.Scenario, err error) (context.Context, error) {
		if testCtx.server != nil {
			testCtx.server.Close()
		}
		if testCtx.egress != nil {
			testCtx.egress.Close()
		}
		if testCtx.tempDir != "" {
			os.RemoveAll(testCtx.tempDir)
		}
		return c, nil
	})

	ctx.Step(`^the upload limit is (\d+) bytes$`, testCtx.theUploadLimitIsBytes)
	ctx.Step(`^the transcoder fails with "([^"]*)"$`, testCtx.theTranscoderFailsWith)
	ctx.Step(`^the service is running$`, testCtx.theServiceIsRunning)
	ctx.Step(`^I upload "([^"]*)" with (\d+) bytes$`, testCtx.iUploadWithBytes)
	ctx.Step(`^I convert the uploaded file as "([^"]*)"$`, testCtx.iConvertTheUploadedFileAs)
	ctx.Step(`^I convert file id "([^"]*)"$`, testCtx.iConvertFileID)
	ctx.Step(`^I download the converted file$`, testCtx.iDownloadTheConvertedFile)
	ctx.Step(`^the response status should be (\d+)$`, testCtx.theResponseStatusShouldBe)
	ctx.Step(`^the response field "([^"]*)" should be "([^"]*)"$`, testCtx.theResponseFieldShouldBe)
	ctx.Step(`^the response body should be the converted audio$`, testCtx.theResponseBodyShouldBeTheConvertedAudio)
	ctx.Step(`^the staging directory should hold (\d+) files?$`, testCtx.theStagingDirectoryShouldHoldFiles)
	ctx.Step(`^the staged file should be named after the upload id$`, testCtx.theStagedFileShouldBeNamedAfterTheUploadID)
	ctx.Step(`^the output directory should hold (\d+) files?$`, testCtx.theOutputDirectoryShouldHoldFiles)
	ctx.Step(`^the output directory should eventually be empty$`, testCtx.theOutputDirectoryShouldEventuallyBeEmpty)
}

func (l *lifecycleContext) theUploadLimitIsBytes(n int) error {
	l.maxBytes = int64(n)
	return nil
}

func (l *lifecycleContext) theTranscoderFailsWith(diagnostic string) error {
	l.transcoder.fail = diagnostic
	return nil
}

func (l *lifecycleContext) theServiceIsRunning() error {
	staging, err := filesystem.NewDir(l.stagingDir)
	if err != nil {
		return err
	}
	outputs, err := filesystem.NewDir(l.outputDir)
	if err != nil {
		return err
	}

	var opts []ingress.Option
	if l.maxBytes > 0 {
		opts = append(opts, ingress.WithMaxBytes(l.maxBytes))
	}
	in := ingress.NewService(staging, memory.NewUploadIndex(), opts...)
	l.egress = egress.NewService(outputs, memory.NewArtifactIndex(), egress.WithDeleteDelay(50*time.Millisecond))
	orch := transcode.NewOrchestrator(in, l.egress, l.transcoder)

	api := httpapi.NewServer(in, orch, l.egress, httpapi.Options{AllowedOrigins: []string{"*"}})
	l.server = httptest.NewServer(api.Handler())
	return nil
}

func (l *lifecycleContext) record(resp *http.Response) error {
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	l.status = resp.StatusCode
	l.rawBody = raw
	l.body = nil
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(raw, &l.body); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func (l *lifecycleContext) iUploadWithBytes(name string, size int) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile(httpapi.UploadField, name)
	if err != nil {
		return err
	}
	if _, err := part.Write(bytes.Repeat([]byte{0x42}, size)); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return err
	}

	resp, err := http.Post(l.server.URL+"/api/upload", mw.FormDataContentType(), &buf)
	if err != nil {
		return err
	}
	if err := l.record(resp); err != nil {
		return err
	}
	if id, ok := l.body["fileId"].(string); ok {
		l.fileID = id
	}
	return nil
}

func (l *lifecycleContext) convert(fileID, name string) error {
	payload, err := json.Marshal(map[string]string{"fileId": fileID, "filename": name})
	if err != nil {
		return err
	}
	resp, err := http.Post(l.server.URL+"/api/convert", "application/json", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	if err := l.record(resp); err != nil {
		return err
	}
	if u, ok := l.body["downloadUrl"].(string); ok {
		l.downloadURL = u
	}
	return nil
}

func (l *lifecycleContext) iConvertTheUploadedFileAs(name string) error {
	if l.fileID == "" {
		return fmt.Errorf("no file has been uploaded")
	}
	return l.convert(l.fileID, name)
}

func (l *lifecycleContext) iConvertFileID(id string) error {
	return l.convert(id, "")
}

func (l *lifecycleContext) iDownloadTheConvertedFile() error {
	if l.downloadURL == "" {
		return fmt.Errorf("no download URL recorded")
	}
	resp, err := http.Get(l.server.URL + l.downloadURL)
	if err != nil {
		return err
	}
	return l.record(resp)
}

func (l *lifecycleContext) theResponseStatusShouldBe(expected int) error {
	if l.status != expected {
		return fmt.Errorf("expected status %d, got %d: %s", expected, l.status, l.rawBody)
	}
	return nil
}

func (l *lifecycleContext) theResponseFieldShouldBe(field, expected string) error {
	got, ok := l.body[field]
	if !ok {
		return fmt.Errorf("response has no field %q: %s", field, l.rawBody)
	}
	if fmt.Sprint(got) != expected {
		return fmt.Errorf("expected %s to be %q, got %q", field, expected, fmt.Sprint(got))
	}
	return nil
}

func (l *lifecycleContext) theResponseBodyShouldBeTheConvertedAudio() error {
	if string(l.rawBody) != "ID3-mp3-bytes" {
		return fmt.Errorf("unexpected download body %q", l.rawBody)
	}
	return nil
}

// visibleFiles lists regular files, ignoring dotfiles such as pending writes
func visibleFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		names = append(names, e.Name())
	}
	return names, nil
}

func expectFiles(dir string, expected int) error {
	names, err := visibleFiles(dir)
	if err != nil {
		return err
	}
	if len(names) != expected {
		return fmt.Errorf("expected %d files in %s, found %v", expected, filepath.Base(dir), names)
	}
	return nil
}

func (l *lifecycleContext) theStagingDirectoryShouldHoldFiles(expected int) error {
	return expectFiles(l.stagingDir, expected)
}

func (l *lifecycleContext) theStagedFileShouldBeNamedAfterTheUploadID() error {
	names, err := visibleFiles(l.stagingDir)
	if err != nil {
		return err
	}
	for _, n := range names {
		if strings.TrimSuffix(n, filepath.Ext(n)) == l.fileID {
			return nil
		}
	}
	return fmt.Errorf("no staged file named after %q in %v", l.fileID, names)
}

func (l *lifecycleContext) theOutputDirectoryShouldHoldFiles(expected int) error {
	return expectFiles(l.outputDir, expected)
}

func (l *lifecycleContext) theOutputDirectoryShouldEventuallyBeEmpty() error {
	deadline := time.Now().Add(2 * time.Second)
	for {
		names, err := visibleFiles(l.outputDir)
		if err != nil {
			return err
		}
		if len(names) == 0 {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("output directory still holds %v", names)
		}
		time.Sleep(20 * time.Millisecond)
	}
}
