package preview

import (
	"strings"
	"testing"

	"github.com/jkaninda/onyesha/internal/domain"
)

func TestRenderDescriptor_Deterministic(t *testing.T) {
	for _, kind := range []domain.RuntimeKind{
		domain.KindReact, domain.KindVue, domain.KindSvelte, domain.KindNext,
		domain.KindFlask, domain.KindFastAPI, domain.KindDjango, domain.KindStatic,
	} {
		a := RenderDescriptor(kind, kind.InternalPort())
		b := RenderDescriptor(kind, kind.InternalPort())
		if a != b {
			t.Errorf("descriptor for %s is not deterministic", kind)
		}
		if a == "" {
			t.Errorf("empty descriptor for %s", kind)
		}
	}
}

func TestRenderDescriptor_Node(t *testing.T) {
	d := RenderDescriptor(domain.KindReact, 3000)
	for _, want := range []string{"FROM node:20-slim", "EXPOSE 3000", "serve -s dist -l 3000", "USER preview"} {
		if !strings.Contains(d, want) {
			t.Errorf("node descriptor missing %q", want)
		}
	}
}

func TestRenderDescriptor_Python(t *testing.T) {
	d := RenderDescriptor(domain.KindFlask, 5000)
	for _, want := range []string{"FROM python:3.12-slim", "EXPOSE 5000", "requirements.txt", "manage.py runserver 0.0.0.0:5000"} {
		if !strings.Contains(d, want) {
			t.Errorf("python descriptor missing %q", want)
		}
	}
}

func TestRenderDescriptor_Static(t *testing.T) {
	d := RenderDescriptor(domain.KindStatic, 80)
	for _, want := range []string{"FROM nginx:alpine", "EXPOSE 80", "listen 80"} {
		if !strings.Contains(d, want) {
			t.Errorf("static descriptor missing %q", want)
		}
	}
}

func TestDetectKind(t *testing.T) {
	tests := []struct {
		name  string
		files []domain.ProjectFile
		want  domain.RuntimeKind
	}{
		{
			name:  "react",
			files: []domain.ProjectFile{{Path: "package.json", Content: `{"dependencies":{"react":"^18.0.0"}}`}},
			want:  domain.KindReact,
		},
		{
			name:  "next wins over react",
			files: []domain.ProjectFile{{Path: "package.json", Content: `{"dependencies":{"next":"14.0.0","react":"^18.0.0"}}`}},
			want:  domain.KindNext,
		},
		{
			name:  "vue",
			files: []domain.ProjectFile{{Path: "package.json", Content: `{"dependencies":{"vue":"^3.0.0"}}`}},
			want:  domain.KindVue,
		},
		{
			name:  "flask",
			files: []domain.ProjectFile{{Path: "requirements.txt", Content: "Flask==3.0.0\n"}},
			want:  domain.KindFlask,
		},
		{
			name:  "fastapi",
			files: []domain.ProjectFile{{Path: "requirements.txt", Content: "fastapi\nuvicorn\n"}},
			want:  domain.KindFastAPI,
		},
		{
			name:  "plain html falls back to static",
			files: []domain.ProjectFile{{Path: "index.html", Content: "<html/>"}},
			want:  domain.KindStatic,
		},
		{
			name:  "empty snapshot",
			files: nil,
			want:  domain.KindStatic,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := DetectKind(tc.files); got != tc.want {
				t.Errorf("DetectKind = %q, want %q", got, tc.want)
			}
		})
	}
}
