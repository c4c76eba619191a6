package config

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/go-cmp/cmp"
	"go.viam.com/test"

	"go.viam.com/fisheye/components/camera/fisheye"
	"go.viam.com/fisheye/components/camera/fisheye/fake"
	"go.viam.com/fisheye/logging"
	"go.viam.com/fisheye/rimage"
	"go.viam.com/fisheye/rimage/cubemap"
)

func writeConfig(t *testing.T, dir, contents string) string {
	t.Helper()
	path := filepath.Join(dir, "fisheye.json")
	test.That(t, os.WriteFile(path, []byte(contents), 0o600), test.ShouldBeNil)
	return path
}

func TestReadSubstitutesEnvironment(t *testing.T) {
	t.Setenv("FISHEYE_FOV", "190")
	t.Setenv("FISHEYE_COLOR", "#ff0000")
	path := writeConfig(t, t.TempDir(), `{
		"name": "front",
		"tick_period": "100ms",
		"render_fence_timeout": 2.5,
		"log_level": "debug",
		"attributes": {"fov": "${FISHEYE_FOV}", "image_size_x": 640},
		"environment": {"type": "uniform", "color": "${FISHEYE_COLOR}"}
	}`)

	cfg, err := Read(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.Name, test.ShouldEqual, "front")
	test.That(t, time.Duration(cfg.TickPeriod), test.ShouldEqual, 100*time.Millisecond)
	test.That(t, time.Duration(cfg.RenderFenceTimeout), test.ShouldEqual, 2500*time.Millisecond)
	test.That(t, *cfg.LogLevel, test.ShouldEqual, logging.DEBUG)

	params, err := cfg.Parameters()
	test.That(t, err, test.ShouldBeNil)
	expected := fisheye.DefaultParameters()
	expected.MaxAngle = 190
	expected.Width = 640
	test.That(t, cmp.Diff(expected, params), test.ShouldBeEmpty)

	env, err := cfg.Environment.Build()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, env, test.ShouldResemble, fake.UniformEnvironment{Color: color.RGBA{R: 255, A: 255}})
}

func TestConfigDefaults(t *testing.T) {
	cfg, err := FromReader(strings.NewReader(`{}`))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, time.Duration(cfg.TickPeriod), test.ShouldEqual, DefaultTickPeriod)
	test.That(t, time.Duration(cfg.RenderFenceTimeout), test.ShouldEqual, fisheye.DefaultRenderFenceTimeout)
	test.That(t, cfg.Environment.Type, test.ShouldEqual, EnvironmentUniform)
	test.That(t, cfg.Environment.Color, test.ShouldEqual, DefaultColor)
	test.That(t, cfg.LogLevel, test.ShouldBeNil)

	params, err := cfg.Parameters()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cmp.Diff(fisheye.DefaultParameters(), params), test.ShouldBeEmpty)
}

func TestConfigErrors(t *testing.T) {
	for _, tc := range []struct {
		name, contents, message string
	}{
		{"syntax", `{"name": `, "cannot parse"},
		{"tick", `{"tick_period": "soon"}`, "invalid duration"},
		{"negative tick", `{"tick_period": "-1s"}`, "tick_period"},
		{"attribute", `{"attributes": {"fov": "wide"}}`, "fov"},
		{"environment", `{"environment": {"type": "ocean"}}`, "unknown environment"},
		{"color", `{"environment": {"color": "white"}}`, "invalid environment color"},
		{"faces", `{"environment": {"type": "images", "faces": ["a.png"]}}`, "needs 6 faces"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := FromReader(strings.NewReader(tc.contents))
			test.That(t, err, test.ShouldNotBeNil)
			test.That(t, err.Error(), test.ShouldContainSubstring, tc.message)
		})
	}

	_, err := Read(filepath.Join(t.TempDir(), "missing.json"))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestBuildEnvironments(t *testing.T) {
	env, err := EnvironmentConfig{Type: EnvironmentGradient}.Build()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, env, test.ShouldHaveSameTypeAs, fake.GradientEnvironment{})

	dir := t.TempDir()
	faces := make([]string, cubemap.NumFaces)
	for i := range faces {
		img := image.NewNRGBA(image.Rect(0, 0, 4, 4))
		for y := 0; y < 4; y++ {
			for x := 0; x < 4; x++ {
				img.Set(x, y, color.NRGBA{G: uint8(i * 30), A: 255})
			}
		}
		faces[i] = filepath.Join(dir, fmt.Sprintf("face%d.png", i))
		test.That(t, imaging.Save(img, faces[i]), test.ShouldBeNil)
	}
	env, err = EnvironmentConfig{Type: EnvironmentImages, Faces: faces}.Build()
	test.That(t, err, test.ShouldBeNil)

	dst := rimage.NewBGRA(image.Rect(0, 0, 2, 2))
	test.That(t, env.RenderFace(context.Background(), cubemap.NegativeY, dst), test.ShouldBeNil)
	test.That(t, dst.RGBAAt(1, 1), test.ShouldResemble, color.RGBA{G: 90, A: 255})

	faces[4] = filepath.Join(dir, "missing.png")
	_, err = EnvironmentConfig{Type: EnvironmentImages, Faces: faces}.Build()
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "+Z")
}
